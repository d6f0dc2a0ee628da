// Package dataset assembles labelled flow data sets from captures and loads them back for
// training and reporting.
package dataset

import (
	"github.com/VahidMostofi/flowlab/internal/labels"
	"github.com/VahidMostofi/flowlab/internal/tstat"
)

// Complete is the column flagging flows that tstat saw open and close.
const Complete = "complete"

// Columns is the schema of the per-capture CSV files.
var Columns = func() []string {
	cols := append([]string{}, tstat.Fields...)
	cols = append(cols, Complete)
	return append(cols, labels.Columns...)
}()

// Dropped are the endpoint columns removed from the merged data set.
var Dropped = []string{"c_ip", "s_ip", "c_port", "s_port"}

// Features are the model inputs.
var Features = []string{
	"c_pkts_all", "c_rst_cnt", "c_ack_cnt", "c_ack_cnt_p", "c_bytes_uniq", "c_pkts_data",
	"c_bytes_all", "c_pkts_retx", "c_bytes_retx", "c_pkts_ooo", "c_syn_cnt", "c_fin_cnt",
	"s_pkts_all", "s_rst_cnt", "s_ack_cnt", "s_ack_cnt_p", "s_bytes_uniq", "s_pkts_data",
	"s_bytes_all", "s_pkts_retx", "s_bytes_retx", "s_pkts_ooo", "s_syn_cnt", "s_fin_cnt",
	"durat", "c_first", "s_first", "c_last", "s_last", "c_first_ack", "s_first_ack",
	Complete,
}

// Output files of Build.
const (
	FullFile     = "dataset.csv.gz"
	TrainingFile = "training.csv.gz"
	DevFile      = "dev.csv.gz"
	KnownFile    = "known.csv.gz"
	UnknownFile  = "unknown.csv.gz"
)

// Targets are the label columns a classifier can be trained on, with their report names.
var Targets = []Target{
	{Column: "category", Description: "category"},
	{Column: "application_short", Description: "tool"},
	{Column: "application_long", Description: "tool instance"},
}

// Target is a label column to predict.
type Target struct {
	Column      string
	Description string
}

// LookupTarget finds a target by column name.
func LookupTarget(column string) (Target, bool) {
	for _, t := range Targets {
		if t.Column == column {
			return t, true
		}
	}
	return Target{}, false
}
