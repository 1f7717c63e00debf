package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/schema"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/state"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/storage"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/warehouse"
)

// memStore is a bucket held in memory.
type memStore struct {
	objects map[string][]byte
	listErr error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) List(_ context.Context, prefix string) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrObjectNotFound)
	}
	return data, nil
}

func (s *memStore) URI(key string) string {
	return "gs://billing-bucket/" + key
}

// memStates keeps load state per key and counts saves.
type memStates struct {
	states  map[string]state.State
	saves   int
	loadErr error
	saveErr error
}

func newMemStates() *memStates {
	return &memStates{states: make(map[string]state.State)}
}

func (s *memStates) Load(_ context.Context, key string) (state.State, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.states[key].Clone(), nil
}

func (s *memStates) Save(_ context.Context, key string, st state.State) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.states[key] = st.Clone()
	return nil
}

// fakeWarehouse models a month partitioned table as a row count per
// partition value. Every loaded file adds rowsPerFile rows.
type fakeWarehouse struct {
	mu          sync.Mutex
	autoDetect  bool
	exists      bool
	rowsPerFile int64
	partitions  map[string]int64
	created     []warehouse.TableSpec
	loads       []warehouse.LoadRequest
	tracking    []warehouse.TrackingRecord
	deleteErr   error
	trackingErr error
	// loadErr fails loads of a partition value.
	loadErr map[string]error
	// afterLoad runs once a load has landed, before the job's wait returns.
	afterLoad func()
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		autoDetect:  true,
		rowsPerFile: 100,
		partitions:  make(map[string]int64),
		loadErr:     make(map[string]error),
	}
}

func (w *fakeWarehouse) Dialect() schema.Dialect { return schema.BigQuery }

func (w *fakeWarehouse) Capabilities() warehouse.Capabilities {
	return warehouse.Capabilities{AutoDetectSchema: w.autoDetect}
}

func (w *fakeWarehouse) TableExists(context.Context, warehouse.TableRef) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exists, nil
}

func (w *fakeWarehouse) CountRows(_ context.Context, _ warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.partitions[p.Value], nil
}

func (w *fakeWarehouse) DeleteRows(_ context.Context, _ warehouse.TableRef, p warehouse.PartitionPredicate) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.deleteErr != nil {
		return 0, w.deleteErr
	}
	n := w.partitions[p.Value]
	delete(w.partitions, p.Value)
	return n, nil
}

func (w *fakeWarehouse) CreateTable(_ context.Context, spec warehouse.TableSpec) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exists = true
	w.created = append(w.created, spec)
	return nil
}

func (w *fakeWarehouse) Load(ctx context.Context, req warehouse.LoadRequest) (*warehouse.LoadResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.loadErr[req.PartitionValue]; err != nil {
		return nil, err
	}
	w.exists = true
	rows := w.rowsPerFile * int64(len(req.SourceURIs))
	w.partitions[req.PartitionValue] += rows
	w.loads = append(w.loads, req)
	if w.afterLoad != nil {
		w.afterLoad()
	}
	// Waiting on a job gives up when its context ends.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &warehouse.LoadResult{RowCount: rows, JobID: fmt.Sprintf("job-%d", len(w.loads))}, nil
}

func (w *fakeWarehouse) AppendTrackingRecords(_ context.Context, _ warehouse.TableRef, records []warehouse.TrackingRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.trackingErr != nil {
		return w.trackingErr
	}
	w.tracking = append(w.tracking, records...)
	return nil
}

func (w *fakeWarehouse) Close() error { return nil }

// curExport describes a staged CUR report version.
type curExport struct {
	name       string
	assemblyID string
	month      time.Time
	files      int
	columnType string
}

func (c curExport) dir() string {
	end := c.month.AddDate(0, 1, 0)
	return fmt.Sprintf("cur/%s-%s", c.month.Format("20060102"), end.Format("20060102"))
}

func (c curExport) manifestKey() string {
	name := c.name
	if name == "" {
		name = "report"
	}
	return c.dir() + "/" + name + "-Manifest.json"
}

// dataKeys are the keys the files were staged at, beside the manifest.
func (c curExport) dataKeys() []string {
	keys := make([]string, c.files)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s/%s/report-%d.csv.gz", c.dir(), c.assemblyID, i+1)
	}
	return keys
}

func (c curExport) manifest() []byte {
	columnType := c.columnType
	if columnType == "" {
		columnType = "OptionalBigDecimal"
	}
	refs := make([]string, c.files)
	for i := range refs {
		// The report keys point at the original export location.
		refs[i] = fmt.Sprintf("billing-path/%s/%s/report-%d.csv.gz", c.month.Format("20060102"), c.assemblyID, i+1)
	}
	doc := map[string]interface{}{
		"assemblyId":  c.assemblyID,
		"compression": "GZIP",
		"contentType": "text/csv",
		"billingPeriod": map[string]string{
			"start": c.month.Format("20060102T150405.000Z"),
			"end":   c.month.AddDate(0, 1, 0).Format("20060102T150405.000Z"),
		},
		"columns": []map[string]string{
			{"category": "identity", "name": "LineItemId", "type": "String"},
			{"category": "bill", "name": "BillingPeriodStartDate", "type": "DateTime"},
			{"category": "lineItem", "name": "UnblendedCost", "type": columnType},
		},
		"reportKeys": refs,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func (s *memStore) stage(exports ...curExport) {
	for _, e := range exports {
		s.objects[e.manifestKey()] = e.manifest()
		for _, k := range e.dataKeys() {
			s.objects[k] = []byte("gzip")
		}
	}
}
