package ephemeris

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/star/eopsmooth/internal/spline"
)

// Key identifies the body pair and frame a data set was sampled for.
type Key struct {
	Reference string `json:"reference"`
	Target    string `json:"target"`
	Frame     string `json:"frame"`
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s->%s/%s", k.Reference, k.Target, k.Frame)
}

// DataSet is one spline fit over [T0, Tf]. It is immutable once inserted.
type DataSet struct {
	ID      uuid.UUID
	Key     Key
	T0, Tf  float64
	Coeffs  *spline.Coefficients
	BuiltAt time.Time
}

// Covers reports whether the data set answers a query for key at epoch.
// Both window ends are inclusive.
func (d *DataSet) Covers(key Key, epoch float64) bool {
	return d.Key == key && d.T0 <= epoch && epoch <= d.Tf
}

// EntryInfo describes a cached data set for introspection.
type EntryInfo struct {
	ID      string    `json:"id"`
	Key     Key       `json:"key"`
	T0      float64   `json:"t0"`
	Tf      float64   `json:"tf"`
	Knots   int       `json:"knots"`
	BuiltAt time.Time `json:"built_at"`
}

func (d *DataSet) info() EntryInfo {
	return EntryInfo{
		ID:      d.ID.String(),
		Key:     d.Key,
		T0:      d.T0,
		Tf:      d.Tf,
		Knots:   len(d.Coeffs.Knots),
		BuiltAt: d.BuiltAt,
	}
}
