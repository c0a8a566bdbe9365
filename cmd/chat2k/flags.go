package main

import (
	"time"

	"github.com/spf13/pflag"
)

// flagReader copies explicitly set flags onto settings fields, keeping the
// first error.
type flagReader struct {
	f   *pflag.FlagSet
	err error
}

func (r *flagReader) changed(name string) bool {
	return r.err == nil && r.f.Changed(name)
}

func (r *flagReader) str(name string, dst *string) {
	if r.changed(name) {
		*dst, r.err = r.f.GetString(name)
	}
}

func (r *flagReader) integer(name string, dst *int) {
	if r.changed(name) {
		*dst, r.err = r.f.GetInt(name)
	}
}

func (r *flagReader) float(name string, dst *float64) {
	if r.changed(name) {
		*dst, r.err = r.f.GetFloat64(name)
	}
}

func (r *flagReader) duration(name string, dst *time.Duration) {
	if r.changed(name) {
		*dst, r.err = r.f.GetDuration(name)
	}
}

func (r *flagReader) boolean(name string, dst *bool) {
	if r.changed(name) {
		*dst, r.err = r.f.GetBool(name)
	}
}
