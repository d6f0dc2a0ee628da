package capture

import (
	"bufio"
	"context"
	"math/rand"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ParseList splits a comma separated URL list, ignoring empty entries.
func ParseList(list string) []string {
	var urls []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ReadList reads one URL per line; blank lines and lines starting with # are skipped.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open URL list")
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, errors.Wrapf(scanner.Err(), "read %s", path)
}

// Googler finds random URLs by searching random lowercase words with googler.
type Googler struct {
	Bin string
	// Count is the minimum number of URLs to collect.
	Count int
	// Size is the length of the random words.
	Size   int
	Rand   *rand.Rand
	Logger *zap.Logger
	// MaxQueries bounds the number of searches; zero means 10 per requested URL.
	MaxQueries int
}

const letters = "abcdefghijklmnopqrstuvwxyz"

func (g *Googler) word() string {
	b := make([]byte, g.Size)
	for i := range b {
		b[i] = letters[g.Rand.Intn(len(letters))]
	}
	return string(b)
}

// URLs runs searches until Count distinct http(s) URLs were found.
func (g *Googler) URLs(ctx context.Context) ([]string, error) {
	if g.Rand == nil {
		return nil, errors.New("googler: no random source")
	}
	max := g.MaxQueries
	if max <= 0 {
		max = 10 * g.Count
	}

	seen := make(map[string]bool)
	var urls []string
	for q := 0; len(urls) < g.Count; q++ {
		if q >= max {
			return urls, errors.Errorf("googler found %d of %d URLs in %d searches", len(urls), g.Count, q)
		}
		word := g.word()
		out, err := exec.CommandContext(ctx, g.Bin, "--nocolor", "--noprompt", word).Output()
		if err != nil {
			return nil, errors.Wrapf(err, "googler %s", word)
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "https://") && !strings.HasPrefix(line, "http://") {
				continue
			}
			if !seen[line] {
				seen[line] = true
				urls = append(urls, line)
			}
		}
		if g.Logger != nil {
			g.Logger.Debug("googler search", zap.String("word", word), zap.Int("urls", len(urls)))
		}
	}
	return urls, nil
}
