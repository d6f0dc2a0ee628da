package main

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VahidMostofi/flowlab/internal/capture"
	"github.com/VahidMostofi/flowlab/internal/config"
)

var (
	captureApp        string
	captureOS         string
	captureHypervisor string
	captureFolder     string
	captureURLFile    string
	captureSearch     bool
	captureRecorder   string
	captureInterface  string
	captureBrowserURL string
)

var captureCmd = &cobra.Command{
	Use:   "capture <tool> [urls]",
	Short: "Record the traffic of a tool visiting a list of URLs",
	Long: `Starts a packet recorder, runs the tool against every URL and stores the capture as
<folder>/<app>_<os>_<hypervisor>.pcap with a JSON manifest next to it. Tools with modes
record one capture per mode.

URLs come from the comma separated argument, from --url-file, or from random googler
searches with --search.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&captureApp, "app", "", "Application name with version (default: the tool's)")
	captureCmd.Flags().StringVar(&captureOS, "os", "", "Operating system name with version")
	captureCmd.Flags().StringVar(&captureHypervisor, "hypervisor", "", "Hypervisor name")
	captureCmd.Flags().StringVar(&captureFolder, "folder", "", "Output folder")
	captureCmd.Flags().StringVar(&captureURLFile, "url-file", "", "File with one URL per line")
	captureCmd.Flags().BoolVar(&captureSearch, "search", false, "Find random URLs with googler")
	captureCmd.Flags().StringVar(&captureRecorder, "recorder", "", "Packet recorder: tshark or docker")
	captureCmd.Flags().StringVar(&captureInterface, "interface", "", "Capture interface")
	captureCmd.Flags().StringVar(&captureBrowserURL, "browser-url", "", "DevTools websocket of a running browser (default: launch one)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	name := args[0]
	tool, ok := cfg.Capture.Tools[name]
	if !ok {
		return errors.Errorf("unknown tool %q (known: %s)", name, strings.Join(toolNames(cfg.Capture.Tools), ", "))
	}

	urls, err := captureURLs(ctx, tool, args)
	if err != nil {
		return err
	}

	generator, closeGenerator := newGenerator(name, tool)
	defer closeGenerator()

	recorder, err := newRecorder()
	if err != nil {
		return err
	}

	plan := capture.Plan{
		Tool:       name,
		App:        orDefault(captureApp, tool.App),
		OS:         orDefault(captureOS, cfg.Capture.OS),
		Hypervisor: orDefault(captureHypervisor, cfg.Capture.Hypervisor),
		Folder:     orDefault(captureFolder, cfg.Capture.Folder),
		URLs:       urls,
		Variants:   tool.Variants,
		Warmup:     tool.Warmup,
	}
	session := &capture.Session{
		Recorder:  recorder,
		Generator: generator,
		Delay:     cfg.GetDelay(),
		Logger:    logger,
	}
	manifests, err := session.Run(ctx, plan)
	for _, m := range manifests {
		logger.Info("capture saved",
			zap.String("pcap", m.Pcap),
			zap.Int("urls", len(m.URLs)),
			zap.Int("failures", len(m.Failures)),
			zap.Duration("duration", m.End.Sub(m.Start)))
	}
	return err
}

func captureURLs(ctx context.Context, tool config.ToolConfig, args []string) ([]string, error) {
	switch {
	case len(args) > 1:
		return capture.ParseList(args[1]), nil
	case captureURLFile != "":
		return capture.ReadList(captureURLFile)
	case captureSearch || tool.Search:
		g := &capture.Googler{
			Bin:    cfg.Capture.Googler.Bin,
			Count:  cfg.Capture.Googler.Iterations,
			Size:   cfg.Capture.Googler.Size,
			Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
			Logger: logger,
		}
		return g.URLs(ctx)
	}
	return nil, errors.New("no URLs: pass a list, --url-file or --search")
}

func newGenerator(name string, tool config.ToolConfig) (capture.Generator, func()) {
	if tool.Kind == "browser" {
		b := &capture.Browser{
			Tool:       name,
			Bin:        cfg.Capture.Browser.Bin,
			Headless:   cfg.Capture.Browser.Headless,
			ControlURL: orDefault(captureBrowserURL, cfg.Capture.Browser.ControlURL),
			Timeout:    cfg.GetBrowserTimeout(),
			Dwell:      cfg.GetBrowserDwell(),
			Logger:     logger,
		}
		return b, func() {
			if err := b.Close(); err != nil {
				logger.Warn("failed to close browser", zap.Error(err))
			}
		}
	}
	return &capture.Command{
		Tool:     name,
		Argv:     tool.Command,
		Duration: tool.GetDuration(),
		Kill:     tool.Kill,
		Cleanup:  tool.Cleanup,
		Logger:   logger,
	}, func() {}
}

func newRecorder() (capture.Recorder, error) {
	kind := orDefault(captureRecorder, cfg.Capture.Recorder)
	switch kind {
	case "docker":
		cli, err := capture.NewDockerClient(cfg.Capture.Docker.Host)
		if err != nil {
			return nil, err
		}
		return &capture.Docker{
			Client:    cli,
			Image:     cfg.Capture.Docker.Image,
			Interface: orDefault(captureInterface, cfg.Capture.Docker.Interface),
			Filter:    cfg.Capture.Filter,
			Network:   cfg.Capture.Docker.Network,
			Driver:    cfg.Capture.Docker.Driver,
			Logger:    logger,
		}, nil
	case "tshark":
		return &capture.Tshark{
			Path:      cfg.Tshark,
			Interface: orDefault(captureInterface, cfg.Capture.Interface),
			Filter:    cfg.Capture.Filter,
			Sudo:      cfg.Capture.Sudo,
			Logger:    logger,
		}, nil
	}
	return nil, errors.Errorf("invalid recorder: %q (valid: tshark, docker)", kind)
}

func toolNames(tools map[string]config.ToolConfig) []string {
	names := make([]string, 0, len(tools))
	for n := range tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
