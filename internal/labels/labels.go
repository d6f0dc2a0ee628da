// Package labels derives the ground-truth labels of a capture from its file name.
//
// Captures are named <app>_<os>_<hypervisor>.pcap, for instance
// rudy-1.0.0_linux-4.17.0_none.pcap, where the first dash-separated field of the app
// and os parts is the tool and OS family.
package labels

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Extension of the capture files.
const Extension = ".pcap"

// Columns are the label columns appended to every flow, in order.
var Columns = []string{"application_short", "application_long", "os_short", "os_long", "all", "category"}

// Label holds the labels of a capture.
type Label struct {
	ApplicationShort string
	ApplicationLong  string
	OSShort          string
	OSLong           string
	All              string
	Category         string
}

// Values returns the label values in the order of Columns.
func (l Label) Values() []string {
	return []string{l.ApplicationShort, l.ApplicationLong, l.OSShort, l.OSLong, l.All, l.Category}
}

// FileName returns the capture file name for an application running on an OS.
func FileName(app, os, hypervisor string) string {
	return fmt.Sprintf("%s_%s_%s%s", app, os, hypervisor, Extension)
}

// Table maps tools to categories and to the short names used in the report.
type Table struct {
	Categories map[string]string
	ShortNames map[string]string
}

// NewTable creates a table.
func NewTable(categories, shortNames map[string]string) *Table {
	if shortNames == nil {
		shortNames = map[string]string{}
	}
	return &Table{Categories: categories, ShortNames: shortNames}
}

// Category returns the category of a tool, looking up the versioned name first.
func (t *Table) Category(app string) (string, error) {
	if c, ok := t.Categories[app]; ok {
		return c, nil
	}
	short := strings.SplitN(app, "-", 2)[0]
	if c, ok := t.Categories[short]; ok {
		return c, nil
	}
	return "", errors.Errorf("no category for tool %q", app)
}

// ShortName returns the abbreviation of a class name, or the name itself.
func (t *Table) ShortName(name string) string {
	if s, ok := t.ShortNames[name]; ok {
		return s
	}
	return name
}

// Parse derives the labels of a capture file.
func (t *Table) Parse(name string) (Label, error) {
	base := strings.TrimSuffix(filepath.Base(name), Extension)
	parts := strings.Split(base, "_")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Label{}, errors.Errorf("capture name %q is not <app>_<os>_<hypervisor>%s", name, Extension)
	}

	category, err := t.Category(parts[0])
	if err != nil {
		return Label{}, errors.Wrapf(err, "capture %s", name)
	}

	return Label{
		ApplicationShort: strings.Split(parts[0], "-")[0],
		ApplicationLong:  parts[0],
		OSShort:          strings.Split(parts[1], "-")[0],
		OSLong:           parts[1],
		All:              parts[0] + "_" + parts[1],
		Category:         category,
	}, nil
}
