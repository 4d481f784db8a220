package txcourt

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"courtcrawl/internal/config"
	"courtcrawl/internal/controller"
	"courtcrawl/internal/site"
	"courtcrawl/internal/workkey"

	"github.com/stretchr/testify/require"
)

var travis = workkey.County{ID: 227, Name: "Travis"}

func TestArtifactName(t *testing.T) {
	r := report(config.Default())
	key := workkey.CountyMonth{County: travis, Year: 2016, Month: time.December}

	require.Equal(t, "DSC_Felony_Activity_Detail_N-Travis-2016-12.xls", r.ArtifactName(key))
	require.Equal(t, "District_and_Statutory_County_Court_DSC_Felony_Activity_Detail_N.rpt.xls", r.SourceName(key))
	require.Empty(t, r.ArtifactName(workkey.NewDate(2016, time.December, 1)))
}

func TestURL(t *testing.T) {
	r := Report{Endpoint: "https://reports.test/export", Name: "DSC_Felony_Activity_Detail_N"}
	raw, err := r.URL(workkey.CountyMonth{County: travis, Year: 2016, Month: time.March})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "reports.test", u.Host)
	q := u.Query()
	require.Equal(t, "/DSC_Felony_Activity_Detail_N.rpt", q.Get("ReportName"))
	require.Equal(t, "3", q.Get("ddlFromMonth"))
	require.Equal(t, "3", q.Get("ddlToMonth"))
	require.Equal(t, "2016", q.Get("ddlFromYear"))
	require.Equal(t, "227", q.Get("ddlCountyPostBack"))
	require.Equal(t, "1625", q.Get("export"))

	_, err = Report{Name: r.Name}.URL(workkey.CountyMonth{County: travis, Year: 2016, Month: time.March})
	require.Error(t, err)
}

func TestParseKey(t *testing.T) {
	cfg := config.Default()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "DSC_Felony_Activity_Detail_N-Travis-2016-12.xls", want: "Travis-2016-12"},
		{in: "Travis-2016-12", want: "Travis-2016-12"},
		{in: "dallas-2019-01", want: "Dallas-2019-01"},
		{in: "DSC_Felony_Activity_Detail_N-Travis-2016-13.xls", wantErr: true},
		{in: "DSC_Felony_Activity_Detail_N-Atlantis-2016-01.xls", wantErr: true},
		{in: "report.xls", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := Site{}.ParseKey(cfg, tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, k.ID())
		})
	}
}

func TestArtifactNameRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Keys.From, cfg.Keys.To = 2020, 2020
	keys, err := Site{}.Keys(cfg)
	require.NoError(t, err)
	require.Len(t, keys, len(cfg.Counties)*12)

	r := report(cfg)
	for _, k := range keys[:36] {
		back, err := r.parse(cfg.Counties, r.ArtifactName(k))
		require.NoError(t, err)
		require.Equal(t, k, back)
	}
}

func TestNewUnitNeedsEndpoint(t *testing.T) {
	cfg := config.Default()
	_, err := Site{}.NewUnit(site.Env{Config: cfg})
	require.True(t, errors.Is(err, controller.ErrFatalSetup))

	cfg.Reports.URL = "https://reports.test/export"
	_, err = Site{}.NewUnit(site.Env{Config: cfg})
	require.True(t, errors.Is(err, controller.ErrFatalSetup))
}

func TestRegistered(t *testing.T) {
	s, ok := site.Get("txcourt")
	require.True(t, ok)
	require.Empty(t, s.Tables())
}
