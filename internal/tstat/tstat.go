// Package tstat runs the tstat per-flow statistics exporter on a capture and reads back
// its TCP logs.
package tstat

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Fields is the prefix of the tstat TCP log schema kept for every flow.
var Fields = []string{
	"c_ip", "c_port", "c_pkts_all", "c_rst_cnt", "c_ack_cnt", "c_ack_cnt_p", "c_bytes_uniq",
	"c_pkts_data", "c_bytes_all", "c_pkts_retx", "c_bytes_retx", "c_pkts_ooo", "c_syn_cnt",
	"c_fin_cnt",
	"s_ip", "s_port", "s_pkts_all", "s_rst_cnt", "s_ack_cnt", "s_ack_cnt_p", "s_bytes_uniq",
	"s_pkts_data", "s_bytes_all", "s_pkts_retx", "s_bytes_retx", "s_pkts_ooo", "s_syn_cnt",
	"s_fin_cnt",
	"first", "last", "durat", "c_first", "s_first", "c_last", "s_last", "c_first_ack",
	"s_first_ack",
	"c_isint", "s_isint", "c_iscrypto", "s_iscrypto", "con_t", "p2p_t", "http_t",
}

// Log file names written by tstat.
const (
	CompleteLog   = "log_tcp_complete"
	NoCompleteLog = "log_tcp_nocomplete"
)

// ErrNoOutput is returned when tstat produced no output directory, typically because the
// capture holds no TCP traffic.
var ErrNoOutput = errors.New("tstat produced no output")

// Logs are the TCP logs of a tstat run.
type Logs struct {
	Complete   string
	NoComplete string
}

// Runner runs tstat.
type Runner struct {
	Path string
}

// Run analyses a capture, writing the logs under outDir.
func (r *Runner) Run(ctx context.Context, pcap, outDir string) (Logs, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path, pcap, "-s", outDir)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Logs{}, errors.Wrapf(err, "tstat %s: %s", pcap, strings.TrimSpace(stderr.String()))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Logs{}, ErrNoOutput
		}
		return Logs{}, errors.Wrap(err, "read tstat output")
	}
	for _, e := range entries {
		if e.IsDir() {
			dir := filepath.Join(outDir, e.Name())
			return Logs{
				Complete:   filepath.Join(dir, CompleteLog),
				NoComplete: filepath.Join(dir, NoCompleteLog),
			}, nil
		}
	}
	return Logs{}, ErrNoOutput
}

// ReadLog calls fn with the whitespace-separated fields of every row of a tstat log,
// skipping the header line.
func ReadLog(path string, fn func(fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		count++
		if count == 1 {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := fn(fields); err != nil {
			return err
		}
	}
	return errors.Wrapf(scanner.Err(), "read %s", path)
}
