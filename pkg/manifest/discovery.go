package manifest

import (
	"context"
	"regexp"
	"sort"

	log "github.com/sirupsen/logrus"
)

// ObjectReader is the storage capability discovery needs.
type ObjectReader interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// Parser decodes the manifest object stored at key.
type Parser interface {
	Parse(key string, data []byte) (*Manifest, error)
}

type ParserFunc func(key string, data []byte) (*Manifest, error)

func (f ParserFunc) Parse(key string, data []byte) (*Manifest, error) {
	return f(key, data)
}

// Filter reports whether a parsed manifest should be processed.
type Filter func(*Manifest) bool

// MonthsFilter keeps manifests whose billing month is one of months.
func MonthsFilter(months ...string) Filter {
	set := make(map[string]struct{}, len(months))
	for _, m := range months {
		set[m] = struct{}{}
	}
	return func(m *Manifest) bool {
		_, ok := set[m.BillingMonth()]
		return ok
	}
}

// SinceFilter keeps manifests whose billing month is at or after month.
func SinceFilter(month string) Filter {
	return func(m *Manifest) bool {
		return m.BillingMonth() >= month
	}
}

type Result struct {
	Manifests []*Manifest
	// Errors holds manifests that matched the pattern but were skipped.
	Errors []*ParseError
}

type Discoverer struct {
	logger     log.FieldLogger
	reader     ObjectReader
	listPrefix string
	pattern    *regexp.Regexp
	parser     Parser
	filters    []Filter
}

func NewDiscoverer(logger log.FieldLogger, reader ObjectReader, listPrefix string, pattern *regexp.Regexp, parser Parser, filters ...Filter) *Discoverer {
	return &Discoverer{
		logger:     logger.WithField("component", "discovery"),
		reader:     reader,
		listPrefix: listPrefix,
		pattern:    pattern,
		parser:     parser,
		filters:    filters,
	}
}

// Discover lists every object under the prefix, parses the ones matching the
// manifest pattern and returns them ordered by billing period, newest first.
// Only a listing failure is returned as an error.
func (d *Discoverer) Discover(ctx context.Context) (*Result, error) {
	keys, err := d.reader.List(ctx, d.listPrefix)
	if err != nil {
		return nil, &DiscoveryError{Prefix: d.listPrefix, Err: err}
	}

	res := &Result{}
	for _, key := range keys {
		if !d.pattern.MatchString(key) {
			continue
		}
		m, err := d.parse(ctx, key)
		if err != nil {
			perr := &ParseError{Key: key, Err: err}
			d.logger.WithError(err).Warnf("skipping manifest %s", key)
			res.Errors = append(res.Errors, perr)
			continue
		}
		if !d.keep(m) {
			d.logger.Debugf("manifest %s for %s filtered out", key, m.BillingMonth())
			continue
		}
		res.Manifests = append(res.Manifests, m)
	}

	SortNewestFirst(res.Manifests)
	d.logger.Infof("discovered %d manifests under %s (%d skipped as invalid)", len(res.Manifests), d.listPrefix, len(res.Errors))
	return res, nil
}

func (d *Discoverer) parse(ctx context.Context, key string) (*Manifest, error) {
	data, err := d.reader.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	m, err := d.parser.Parse(key, data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Discoverer) keep(m *Manifest) bool {
	for _, f := range d.filters {
		if !f(m) {
			return false
		}
	}
	return true
}

// SortNewestFirst orders manifests by billing period start descending. Ties
// are broken by path descending so the order is total.
func SortNewestFirst(manifests []*Manifest) {
	sort.SliceStable(manifests, func(i, j int) bool {
		a, b := manifests[i], manifests[j]
		if !a.BillingPeriod.Start.Equal(b.BillingPeriod.Start) {
			return a.BillingPeriod.Start.After(b.BillingPeriod.Start)
		}
		return a.Path > b.Path
	})
}
