package capture

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Manifest describes a recorded capture. It is saved next to the pcap.
type Manifest struct {
	ID         string    `json:"id"`
	Tool       string    `json:"tool"`
	App        string    `json:"app"`
	OS         string    `json:"os"`
	Hypervisor string    `json:"hypervisor"`
	Variant    string    `json:"variant,omitempty"`
	Pcap       string    `json:"pcap"`
	URLs       []string  `json:"urls"`
	Failures   []Failure `json:"failures,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Failure is a URL the generator could not visit.
type Failure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ManifestPath returns the manifest file of a capture.
func ManifestPath(pcap string) string {
	return pcap + ".json"
}

// Save writes the manifest next to its capture.
func (m *Manifest) Save() error {
	b, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}
	return errors.Wrap(os.WriteFile(ManifestPath(m.Pcap), b, 0644), "write manifest")
}

// LoadManifest reads the manifest of a capture.
func LoadManifest(pcap string) (*Manifest, error) {
	b, err := os.ReadFile(ManifestPath(pcap))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	m := Manifest{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "decode %s", ManifestPath(pcap))
	}
	return &m, nil
}
