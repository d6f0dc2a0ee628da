package config

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Tshark: "tshark",
		Tstat:  "tstat-3.1.1/tstat/tstat",
		Dataset: DatasetConfig{
			DevRatio:  10,
			TestRatio: 10,
			Seed:      1,
			Workers:   4,
			Splitter:  "native",
			Splits:    true,
			Unknown:   []string{"grabsite-2.1.16", "opera-62.0.3331.66", "slowhttptest-1.6", "firefox-68.0"},
		},
		Capture: CaptureConfig{
			Folder:     ".",
			OS:         "linux-4.17.0",
			Hypervisor: "none",
			Delay:      "5s",
			Filter:     "tcp and (port 443 or port 80)",
			Recorder:   "tshark",
			Docker: DockerConfig{
				Host:      "unix:///var/run/docker.sock",
				Image:     "nicolaka/netshoot",
				Interface: "any",
				Driver:    "overlay",
			},
			Browser: BrowserConfig{
				Headless: true,
				Timeout:  "60s",
				Dwell:    "5s",
			},
			Googler: GooglerConfig{
				Bin:        "googler",
				Iterations: 4,
				Size:       4,
			},
			Tools: DefaultTools(),
		},
		Optimize: OptimizeConfig{
			Folder:   "models",
			Timeout:  "24h",
			Window:   30,
			MaxEvals: 1024,
			Jobs:     -1,
			Seed:     1,
		},
		Report: ReportConfig{
			Output: "docs",
			Plots:  false,
		},
		Categories: DefaultCategories(),
		ShortNames: DefaultShortNames(),
	}
}

// DefaultTools returns the traffic generators used to build the data set.
func DefaultTools() map[string]ToolConfig {
	return map[string]ToolConfig{
		"rudy": {
			Kind:    "command",
			App:     "rudy-1.0.0",
			Command: []string{"rudy", "-t", "{url}"},
			Kill:    []string{"node"},
		},
		"slowhttptest": {
			Kind:     "command",
			App:      "slowhttptest-1.6",
			Command:  []string{"slowhttptest", "-{variant}", "-u", "{url}"},
			Duration: "60s",
			Warmup:   true,
			Variants: []string{"H", "B", "R", "X"},
			Kill:     []string{"slowhttptest"},
		},
		"goldeneye": {
			Kind:    "command",
			App:     "goldeneye-post-2.1",
			Command: []string{"python", "goldeneye/goldeneye.py", "{url}", "-w", "5", "-s", "5", "-m", "post"},
		},
		"wpull": {
			Kind: "command",
			App:  "wpull-2.0.1",
			Command: []string{
				"python3", "-m", "wpull", "{url}",
				"--warc-file", "{workdir}/tmp",
				"--no-check-certificate", "--no-robots",
				"--user-agent", "InconspiuousWebBrowser/1.0",
				"--wait", "0.5", "--random-wait", "--waitretry", "600",
				"--page-requisites", "--recursive", "--level", "inf",
				"--span-hosts-allow", "linked-pages,page-requisites",
				"--escaped-fragment", "--strip-session-id", "--sitemaps",
				"--reject-regex", `/login\.php`,
				"--tries", "3", "--retry-connrefused", "--retry-dns-error",
				"--timeout", "60", "--session-timeout", "21600",
				"--delete-after",
				"--database", "{workdir}/tmp.db",
				"--quiet", "--output-file", "{workdir}/tmp.log",
			},
			Warmup: true,
			Kill:   []string{"node"},
		},
		"httrack": {
			Kind:    "command",
			App:     "httrack-3.49.2",
			Command: []string{"httrack", "{url}", "-O", "{workdir}/httrack.tmp"},
			Warmup:  true,
			Cleanup: []string{"{workdir}/httrack.tmp"},
		},
		"grabsite": {
			Kind:     "command",
			App:      "grabsite-2.1.16",
			Command:  []string{"grab-site", "--dir", "{workdir}/grabSiteTemp", "{url}"},
			Duration: "5s",
			Warmup:   true,
			Kill:     []string{"grab-site"},
			Cleanup:  []string{"{workdir}/grabSiteTemp"},
			Search:   true,
		},
		"browser": {
			Kind:   "browser",
			App:    "chrome-68.0.3440.84",
			Warmup: true,
		},
	}
}

// DefaultCategories returns the tool to category table.
func DefaultCategories() map[string]string {
	return map[string]string{
		"dos":     "dos",
		"browser": "browser",
		"crawler": "crawler",

		"goldeneye":    "dos",
		"hulk":         "dos",
		"rudy":         "dos",
		"slowloris":    "dos",
		"slowhttptest": "dos",
		"firefox":      "browser",
		"edge":         "browser",
		"chrome":       "browser",
		"opera":        "browser",
		"wget":         "crawler",
		"httrack":      "crawler",
		"curl":         "crawler",
		"wpull":        "crawler",
		"grabsite":     "crawler",

		"goldeneye-2.1":        "dos",
		"goldeneye-post-2.1":   "dos",
		"hulk-1.0":             "dos",
		"rudy-1.0.0":           "dos",
		"slowloris-0.1.5":      "dos",
		"slowloris-0.1.4":      "dos",
		"slowhttptest-1.6":     "dos",
		"firefox-62.0":         "browser",
		"firefox-42.0":         "browser",
		"firefox-68.0":         "browser",
		"edge-42.17134.1.0":    "browser",
		"chrome-48.0.2564.109": "browser",
		"chrome-68.0.3440.84":  "browser",
		"opera-62.0.3331.66":   "browser",
		"wget-1.11.4":          "crawler",
		"wget-1.19.5":          "crawler",
		"httrack-3.49.2":       "crawler",
		"curl-7.55.1":          "crawler",
		"curl-7.61.0":          "crawler",
		"wpull-2.0.1":          "crawler",
		"grabsite-2.1.16":      "crawler",
	}
}

// DefaultShortNames returns the abbreviations used in confusion matrices.
func DefaultShortNames() map[string]string {
	return map[string]string{
		"goldeneye-2.1":        "go-2.1",
		"goldeneye-post-2.1":   "go-post-2.1",
		"firefox-62.0":         "fi-62.0",
		"hulk-1.0":             "hu-1.0",
		"wget-1.11.4":          "wg-1.11.4",
		"edge-42.17134.1.0":    "ed-42",
		"httrack-3.49.2":       "ht-3.49.2",
		"chrome-48.0.2564.109": "ch-48.0",
		"rudy-1.0.0":           "ru-1.0.0",
		"chrome-68.0.3440.84":  "ch-68.0",
		"firefox-42.0":         "fi-42.0",
		"slowloris-0.1.5":      "sl-0.1.5",
		"curl-7.55.1":          "cu-7.55.1",
		"curl-7.61.0":          "cu-7.61.0",
		"slowloris-0.1.4":      "sl-0.1.4",
		"wpull-2.0.1":          "wp-2.0.1",
		"wget-1.19.5":          "wg-1.19.5",
	}
}
