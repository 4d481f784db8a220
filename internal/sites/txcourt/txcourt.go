// Package txcourt captures the monthly felony activity report for every
// county and month.
package txcourt

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"courtcrawl/internal/capture"
	"courtcrawl/internal/config"
	"courtcrawl/internal/controller"
	"courtcrawl/internal/sink"
	"courtcrawl/internal/site"
	"courtcrawl/internal/workkey"
)

// Report builds report URLs and file names for one report type.
type Report struct {
	Endpoint string
	Name     string
}

func (r Report) month(key workkey.Key) (workkey.CountyMonth, error) {
	cm, ok := key.(workkey.CountyMonth)
	if !ok {
		return cm, fmt.Errorf("txcourt reports are per county and month, got %T", key)
	}
	return cm, nil
}

func (r Report) URL(key workkey.Key) (string, error) {
	cm, err := r.month(key)
	if err != nil {
		return "", err
	}
	if r.Endpoint == "" {
		return "", errors.New("report endpoint is not configured")
	}
	mm, yyyy := strconv.Itoa(int(cm.Month)), strconv.Itoa(cm.Year)
	q := []string{
		"ReportName=" + url.QueryEscape("/"+r.Name+".rpt"),
		"ddlFromMonth=" + mm, "ddlFromYear=" + yyyy,
		"txtFromMonthField=@FromMonth", "txtFromYearField=@FromYear",
		"ddlToMonth=" + mm, "ddlToYear=" + yyyy,
		"txtToMonthField=@ToMonth", "txtToYearField=@ToYear",
		"ddlCountyPostBack=" + strconv.Itoa(cm.County.ID), "txtCountyPostBackField=@CountyID",
		"ddlCourtAfterPostBack=0", "txtCourtAfterPostBackField=@CourtID",
		"chkAggregateMonthlyReport=0",
		"export=1625",
	}
	return r.Endpoint + "?" + strings.Join(q, "&"), nil
}

// SourceName is what the report server names the export.
func (r Report) SourceName(workkey.Key) string {
	return "District_and_Statutory_County_Court_" + r.Name + ".rpt.xls"
}

// ArtifactName is <report>-<County>-YYYY-MM.xls.
func (r Report) ArtifactName(key workkey.Key) string {
	cm, err := r.month(key)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s-%s-%04d-%02d.xls", r.Name, cm.County.Name, cm.Year, int(cm.Month))
}

// parse reverses ArtifactName, also accepting the key ID form
// <County>-YYYY-MM.
func (r Report) parse(counties []workkey.County, s string) (workkey.Key, error) {
	re := regexp.MustCompile(`^(?:` + regexp.QuoteMeta(r.Name) + `-)?(.+)-(\d{4})-(\d{2})(?:\.xls)?$`)
	m := re.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, fmt.Errorf("not a %s report name: %q", r.Name, s)
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month in %q", s)
	}
	for _, c := range counties {
		if strings.EqualFold(c.Name, m[1]) {
			return workkey.CountyMonth{County: c, Year: year, Month: time.Month(month)}, nil
		}
	}
	return nil, fmt.Errorf("unknown county %q", m[1])
}

type Site struct{}

func init() {
	site.Register(Site{})
}

func (Site) Name() string { return "txcourt" }

func (Site) Description() string {
	return "monthly felony activity report per county, saved by an external capture tool"
}

func report(cfg config.Config) Report {
	return Report{Endpoint: cfg.Reports.URL, Name: cfg.Reports.Name}
}

func (Site) Keys(cfg config.Config) ([]workkey.Key, error) {
	return workkey.CountyMonths(cfg.Counties, cfg.Years())
}

func (Site) ParseKey(cfg config.Config, s string) (workkey.Key, error) {
	return report(cfg).parse(cfg.Counties, s)
}

// Tables is empty: reports are filed as artifacts, not rows.
func (Site) Tables() []sink.Table { return nil }

func (Site) NewUnit(env site.Env) (controller.Unit, error) {
	cfg := env.Config
	if cfg.Reports.URL == "" {
		return nil, fmt.Errorf("%w: reports.url is not set", controller.ErrFatalSetup)
	}
	if cfg.Capture.Tool.Path == "" {
		return nil, fmt.Errorf("%w: capture.tool.path is not set", controller.ErrFatalSetup)
	}
	u, err := capture.NewUnit(env.Session, report(cfg), cfg.Capture, env.Log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", controller.ErrFatalSetup, err)
	}
	return u, nil
}
