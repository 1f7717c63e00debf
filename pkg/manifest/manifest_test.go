package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/storage/mock"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestManifestKeys(t *testing.T) {
	m := &Manifest{
		Path:          "cur/20250901-20251001/report-Manifest.json",
		BillingPeriod: BillingPeriod{Start: time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)},
	}
	assert.Equal(t, "2025-09", m.BillingMonth())
	assert.Equal(t, "2025-09-01", m.PartitionValue())
	assert.Equal(t, "cur/20250901-20251001", m.Dir())

	// Keys are derived in UTC.
	m.BillingPeriod.Start = time.Date(2025, time.October, 1, 2, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	assert.Equal(t, "2025-10", m.BillingMonth())
	assert.Equal(t, "2025-10-01", m.PartitionValue())
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		manifest  Manifest
		expectErr error
	}{
		"valid": {
			manifest: Manifest{ExecutionID: "exec-1", BillingPeriod: BillingPeriod{Start: month(2025, time.September)}},
		},
		"missing execution id": {
			manifest:  Manifest{BillingPeriod: BillingPeriod{Start: month(2025, time.September)}},
			expectErr: ErrMissingExecutionID,
		},
		"missing billing period": {
			manifest:  Manifest{ExecutionID: "exec-1"},
			expectErr: ErrMissingBillingPeriod,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.expectErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expectErr)
		})
	}
}

// testManifest is a minimal manifest document for a fake provider.
type testManifest struct {
	ID    string `json:"id"`
	Month string `json:"month"`
}

func testParser(key string, data []byte) (*Manifest, error) {
	var doc testManifest
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	m := &Manifest{Provider: "test", ExecutionID: doc.ID, Path: key, Format: FormatCSV}
	if doc.Month != "" {
		start, err := time.Parse(BillingMonthLayout, doc.Month)
		if err != nil {
			return nil, err
		}
		m.BillingPeriod.Start = start
	}
	return m, nil
}

func doc(id, month string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"month":%q}`, id, month))
}

var testPattern = regexp.MustCompile(`^exports/[^/]+/manifest\.json$`)

func TestDiscover(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock.NewMockStore(ctrl)
	store.EXPECT().List(gomock.Any(), "exports/").Return([]string{
		"exports/a/manifest.json",
		"exports/a/data-1.csv.gz",
		"exports/b/manifest.json",
		"exports/c/manifest.json",
		"exports/d/manifest.json",
		"exports/e/nested/manifest.json",
	}, nil)
	store.EXPECT().Read(gomock.Any(), "exports/a/manifest.json").Return(doc("a", "2025-08"), nil)
	store.EXPECT().Read(gomock.Any(), "exports/b/manifest.json").Return(doc("b", "2025-10"), nil)
	store.EXPECT().Read(gomock.Any(), "exports/c/manifest.json").Return([]byte("{"), nil)
	store.EXPECT().Read(gomock.Any(), "exports/d/manifest.json").Return(doc("", "2025-09"), nil)

	d := NewDiscoverer(logrus.New(), store, "exports/", testPattern, ParserFunc(testParser))
	res, err := d.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Manifests, 2)
	assert.Equal(t, "b", res.Manifests[0].ExecutionID, "newest first")
	assert.Equal(t, "a", res.Manifests[1].ExecutionID)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "exports/c/manifest.json", res.Errors[0].Key)
	assert.Equal(t, "exports/d/manifest.json", res.Errors[1].Key)
	assert.ErrorIs(t, res.Errors[1], ErrMissingExecutionID)
}

func TestDiscoverFilters(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock.NewMockStore(ctrl)
	store.EXPECT().List(gomock.Any(), "exports/").Return([]string{
		"exports/a/manifest.json",
		"exports/b/manifest.json",
		"exports/c/manifest.json",
	}, nil)
	store.EXPECT().Read(gomock.Any(), "exports/a/manifest.json").Return(doc("a", "2025-08"), nil)
	store.EXPECT().Read(gomock.Any(), "exports/b/manifest.json").Return(doc("b", "2025-09"), nil)
	store.EXPECT().Read(gomock.Any(), "exports/c/manifest.json").Return(doc("c", "2025-10"), nil)

	d := NewDiscoverer(logrus.New(), store, "exports/", testPattern, ParserFunc(testParser),
		SinceFilter("2025-09"), MonthsFilter("2025-08", "2025-09"))
	res, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Manifests, 1)
	assert.Equal(t, "b", res.Manifests[0].ExecutionID)
	assert.Empty(t, res.Errors)
}

func TestDiscoverListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	boom := errors.New("access denied")
	store := mock.NewMockStore(ctrl)
	store.EXPECT().List(gomock.Any(), "exports/").Return(nil, boom)

	d := NewDiscoverer(logrus.New(), store, "exports/", testPattern, ParserFunc(testParser))
	_, err := d.Discover(context.Background())

	var discoveryErr *DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Equal(t, "exports/", discoveryErr.Prefix)
	assert.ErrorIs(t, err, boom)
}

func TestSortNewestFirst(t *testing.T) {
	manifests := []*Manifest{
		{Path: "x/2025-08/run-1/manifest.json", BillingPeriod: BillingPeriod{Start: month(2025, time.August)}},
		{Path: "x/2025-10/run-1/manifest.json", BillingPeriod: BillingPeriod{Start: month(2025, time.October)}},
		{Path: "x/2025-10/run-2/manifest.json", BillingPeriod: BillingPeriod{Start: month(2025, time.October)}},
	}
	SortNewestFirst(manifests)

	var paths []string
	for _, m := range manifests {
		paths = append(paths, m.Path)
	}
	assert.Equal(t, []string{
		"x/2025-10/run-2/manifest.json",
		"x/2025-10/run-1/manifest.json",
		"x/2025-08/run-1/manifest.json",
	}, paths)
}
