// Package nestedset implements the synchronizer that folds append-only log
// tables encoded with the modified pre-order nested-set model into their
// live destination tables.
package nestedset

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nestedsync/nestedsync/internal/config"
)

type (
	// TableConfig names the live table and the three columns the
	// synchronizer needs to read and mutate it.
	TableConfig struct {
		Name        string `yaml:"name"`
		PKColumn    string `yaml:"pk_column"`
		LeftColumn  string `yaml:"left_column"`
		RightColumn string `yaml:"right_column"`
	}

	// LogTableConfig names the append-only log table and the columns that
	// carry its primary key and operation code. The remaining node columns
	// (pk, left, right, payload) are shared with TableConfig by name.
	LogTableConfig struct {
		Name            string `yaml:"name"`
		PKColumn        string `yaml:"pk_column"`
		OperationColumn string `yaml:"operation_column"`
	}

	// OffsetTableConfig names the singleton offset table shared by every
	// destination: one row per log table, keyed by log table name.
	OffsetTableConfig struct {
		Name            string `yaml:"name"`
		LogTableColumn  string `yaml:"logtable_column"`
		OffsetColumn    string `yaml:"offset_column"`
	}

	// OperationCodes maps the UPSERT/DELETE operation codes a producer
	// writes into the log table's operation column. Defaults are 0/1.
	OperationCodes struct {
		Upsert int `yaml:"upsert"`
		Delete int `yaml:"delete"`
	}

	// Destination binds one live table to its log table and offset row,
	// and is the unit the Synchronizer operates on. Column names are
	// matched case-insensitively against what the readers return.
	Destination struct {
		Name    string            `yaml:"name"`
		Table   TableConfig       `yaml:"table"`
		Log     LogTableConfig    `yaml:"log_table"`
		Offset  OffsetTableConfig `yaml:"offset_table"`
		Ops     OperationCodes    `yaml:"operation_types"`
	}

	// Manifest is the raw YAML shape: a flat list of destinations.
	Manifest struct {
		Destinations []Destination `yaml:"destinations"`
	}

	// Fleet is the validated, lookup-ready set of destinations loaded from
	// a manifest. It is immutable after construction.
	Fleet struct {
		byName map[string]Destination
		order  []string
		loadID string
	}
)

const (
	defaultOpUpsert = 0
	defaultOpDelete = 1
)

// DefaultManifestPath is the default location of the destination manifest.
const DefaultManifestPath = "destinations.yaml"

// ManifestPathEnvVar is the environment variable naming a custom manifest path.
const ManifestPathEnvVar = "NESTEDSYNC_MANIFEST_PATH"

// LoadManifest reads and validates the destination manifest at path.
//
// Unlike optional feature configuration, a missing or empty manifest is
// fatal: the synchronizer has no destinations to operate on without it.
func LoadManifest(path string) (*Fleet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		return nil, fmt.Errorf("nestedset: reading manifest %q: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("nestedset: parsing manifest %q: %w", path, err)
	}

	return NewFleet(m.Destinations)
}

// LoadManifestFromEnv loads the manifest from the path named by
// ManifestPathEnvVar, falling back to DefaultManifestPath.
func LoadManifestFromEnv() (*Fleet, error) {
	path := config.GetEnvStr(ManifestPathEnvVar, DefaultManifestPath)

	return LoadManifest(path)
}

// NewFleet validates a list of destinations and builds a lookup-ready Fleet.
//
// Each destination's operation codes default to 0 (upsert) / 1 (delete)
// when left unset in YAML so the common case needs no configuration.
func NewFleet(destinations []Destination) (*Fleet, error) {
	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}

	fleet := &Fleet{
		byName: make(map[string]Destination, len(destinations)),
		order:  make([]string, 0, len(destinations)),
		loadID: uuid.New().String(),
	}

	for _, d := range destinations {
		if _, exists := fleet.byName[d.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDestination, d.Name)
		}

		if err := validateDestination(&d); err != nil {
			return nil, fmt.Errorf("nestedset: destination %q: %w", d.Name, err)
		}

		fleet.byName[d.Name] = d
		fleet.order = append(fleet.order, d.Name)
	}

	return fleet, nil
}

func validateDestination(d *Destination) error {
	if d.Name == "" {
		return errors.New("nestedset: destination name is required")
	}

	if d.Table.Name == "" || d.Table.PKColumn == "" || d.Table.LeftColumn == "" || d.Table.RightColumn == "" {
		return errors.New("nestedset: table configuration is incomplete")
	}

	if d.Log.Name == "" || d.Log.PKColumn == "" || d.Log.OperationColumn == "" {
		return errors.New("nestedset: log table configuration is incomplete")
	}

	if d.Offset.Name == "" || d.Offset.LogTableColumn == "" || d.Offset.OffsetColumn == "" {
		return errors.New("nestedset: offset table configuration is incomplete")
	}

	if d.Ops.Upsert == 0 && d.Ops.Delete == 0 {
		d.Ops.Upsert = defaultOpUpsert
		d.Ops.Delete = defaultOpDelete
	}

	if d.Ops.Upsert == d.Ops.Delete {
		return errors.New("nestedset: upsert and delete operation codes must differ")
	}

	return nil
}

// Decode maps a raw operation code read from this destination's log table
// to the package's canonical Op. ok is false when code matches neither the
// configured upsert nor delete code, which the caller must treat as a
// fatal, unrecognized operation.
func (oc OperationCodes) Decode(code int) (op Op, ok bool) {
	switch code {
	case oc.Upsert:
		return OpUpsert, true
	case oc.Delete:
		return OpDelete, true
	default:
		return 0, false
	}
}

// Encode maps the package's canonical Op to this destination's configured
// operation code, for writing to the log table (the append path and any
// other producer must agree on the same mapping).
func (oc OperationCodes) Encode(op Op) int {
	if op == OpDelete {
		return oc.Delete
	}

	return oc.Upsert
}

// LoadID is a unique identifier generated when this fleet was loaded, for
// correlating structured log lines across a single manifest load.
func (f *Fleet) LoadID() string {
	return f.loadID
}

// Len returns the number of destinations in the fleet.
func (f *Fleet) Len() int {
	return len(f.order)
}

// Names returns the destination names in manifest order.
func (f *Fleet) Names() []string {
	names := make([]string, len(f.order))
	copy(names, f.order)

	return names
}

// Get returns the named destination and whether it exists.
func (f *Fleet) Get(name string) (Destination, bool) {
	d, ok := f.byName[name]

	return d, ok
}

// All returns every destination in manifest order.
func (f *Fleet) All() []Destination {
	all := make([]Destination, 0, len(f.order))
	for _, name := range f.order {
		all = append(all, f.byName[name])
	}

	return all
}
