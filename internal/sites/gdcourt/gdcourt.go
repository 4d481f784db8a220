// Package gdcourt crawls general district court cases by hearing date.
package gdcourt

import (
	"fmt"
	"time"

	"courtcrawl/internal/config"
	"courtcrawl/internal/controller"
	"courtcrawl/internal/sink"
	"courtcrawl/internal/site"
	"courtcrawl/internal/workkey"
)

var (
	listingTable = []string{
		"listing_id", "work_key", "case_number", "name", "charge", "hearing_time",
		"hearing_type", "result", "court", "court_code", "page", "pagination",
		"run_id", "scraped_at",
	}
	detailColumns = []string{
		"case_number", "filed_date", "locality", "name", "address", "gender",
		"race", "dob", "charge", "code_section", "case_type", "class",
		"offense_date", "arrest_date", "complainant", "amended_charge",
		"final_disposition", "sentence_time", "sentence_suspended_time",
		"probation_type", "fine", "costs", "fine_costs_due", "fine_costs_paid",
	}
	hearingColumns = []string{
		"case_number", "date", "time", "result", "hearing_type", "courtroom",
		"plea", "continuance_code",
	}
	serviceColumns = []string{
		"case_number", "name", "service_process_type", "date_issued",
		"date_returned", "plaintiff", "how_served",
	}
)

var tables = []sink.Table{
	{Name: "main_table", Columns: listingTable, Key: "listing_id"},
	{Name: "case_detail", Columns: detailColumns, Key: "case_number"},
	{Name: "hearing_info", Columns: hearingColumns, Key: "case_number", Parent: "case_detail"},
	{Name: "service_info", Columns: serviceColumns, Key: "case_number", Parent: "case_detail"},
}

type Site struct{}

func init() {
	site.Register(Site{})
}

func (Site) Name() string { return "gdcourt" }

func (Site) Description() string {
	return "general district court cases, one search per weekday hearing date"
}

func (Site) Keys(cfg config.Config) ([]workkey.Key, error) {
	holidays, err := cfg.HolidayDates()
	if err != nil {
		return nil, err
	}
	return workkey.Weekdays(cfg.Years(), holidays...)
}

func (Site) ParseKey(cfg config.Config, s string) (workkey.Key, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("not a hearing date: %q", s)
	}
	return workkey.Date{Day: t}, nil
}

func (Site) Tables() []sink.Table { return tables }

func (Site) NewUnit(env site.Env) (controller.Unit, error) {
	u, err := site.NewSearchUnit(env, site.Search{
		Portal:       NewPortal(env.Config.CourtCode),
		Extractor:    Extractor{},
		Tables:       tables,
		Listing:      "main_table",
		Detail:       "case_detail",
		RecordColumn: "case_number",
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
