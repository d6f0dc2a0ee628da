package capture

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var defaultHeaders = map[string]string{"User-Agent": "engine-api-cli-1.0"}

const (
	netnsDir      = "/var/run/docker/netns"
	containerPcap = "/tmp/capture.pcap"
)

// DockerAPI is the part of the docker client used by the Docker recorder.
type DockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, containerName string) (container.ContainerCreateCreatedBody, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecConfig) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, types.ContainerPathStat, error)
	NetworkList(ctx context.Context, options types.NetworkListOptions) ([]types.NetworkResource, error)
}

// NewDockerClient connects to a docker daemon.
func NewDockerClient(host string) (*client.Client, error) {
	cli, err := client.NewClient(host, "", nil, defaultHeaders)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to docker at %s", host)
	}
	return cli, nil
}

// Docker records with tcpdump inside a privileged container. Without a network the
// container shares the host network; with one, tcpdump enters that network's namespace.
type Docker struct {
	Client    DockerAPI
	Image     string
	Interface string
	Filter    string
	Network   string
	Driver    string
	Grace     time.Duration
	Logger    *zap.Logger

	containerID string
	pcap        string
	done        chan error
}

type execResult struct {
	StdOut   string
	StdErr   string
	ExitCode int
}

// Start implements Recorder.
func (d *Docker) Start(ctx context.Context, pcap string) error {
	if d.containerID != "" {
		return errors.New("docker recorder already recording")
	}

	hostConfig := &container.HostConfig{Privileged: true}
	var prefix []string
	if d.Network != "" {
		nw, err := d.network(ctx)
		if err != nil {
			return err
		}
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: netnsDir,
				Target: netnsDir,
			},
		}
		prefix = []string{"nsenter", NetnsArg(nw.ID)}
	} else {
		hostConfig.NetworkMode = "host"
	}

	name := "flowlab_" + uuid.NewString()[:8]
	body, err := d.Client.ContainerCreate(ctx, &container.Config{
		Image: d.Image,
		Cmd:   []string{"sleep", "infinity"},
	}, hostConfig, nil, name)
	if err != nil {
		return errors.Wrap(err, "create capture container")
	}
	if err := d.Client.ContainerStart(ctx, body.ID, types.ContainerStartOptions{}); err != nil {
		d.remove(body.ID)
		return errors.Wrap(err, "start capture container")
	}

	cmd := append(prefix, d.tcpdump()...)
	ex, err := d.startExec(ctx, body.ID, cmd)
	if err != nil {
		d.remove(body.ID)
		return errors.Wrap(err, "start tcpdump")
	}
	d.containerID, d.pcap = body.ID, pcap
	d.done = make(chan error, 1)
	go func() {
		res, err := d.wait(context.Background(), ex)
		if err == nil && res.ExitCode != 0 {
			err = errors.Errorf("tcpdump exited with %d: %s", res.ExitCode, strings.TrimSpace(res.StdErr))
		}
		d.done <- err
	}()

	d.logger().Info("recording in container", zap.String("container", name), zap.String("pcap", pcap))
	return nil
}

func (d *Docker) tcpdump() []string {
	iface := d.Interface
	if iface == "" {
		iface = "any"
	}
	cmd := []string{"tcpdump", "-i", iface, "-U", "-w", containerPcap}
	if d.Filter != "" {
		cmd = append(cmd, d.Filter)
	}
	return cmd
}

// Stop implements Recorder. The capture is copied out of the container, which is removed
// in any case.
func (d *Docker) Stop(ctx context.Context) error {
	if d.containerID == "" {
		return errors.New("docker recorder is not recording")
	}
	id, pcap, done := d.containerID, d.pcap, d.done
	d.containerID = ""
	defer d.remove(id)

	if _, err := d.exec(ctx, id, []string{"pkill", "-INT", "tcpdump"}); err != nil {
		d.logger().Warn("failed to interrupt tcpdump", zap.Error(err))
	}

	grace := d.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			d.logger().Warn("tcpdump", zap.Error(err))
		}
	case <-timer.C:
		d.logger().Warn("tcpdump did not stop, copying what was written")
	case <-ctx.Done():
		return ctx.Err()
	}

	return d.copyCapture(ctx, id, pcap)
}

func (d *Docker) copyCapture(ctx context.Context, id, pcap string) error {
	readCloser, _, err := d.Client.CopyFromContainer(ctx, id, containerPcap)
	if err != nil {
		return errors.Wrap(err, "copy capture from container")
	}
	defer readCloser.Close()

	tr := tar.NewReader(readCloser)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return errors.Errorf("no %s in container archive", path.Base(containerPcap))
		}
		if err != nil {
			return errors.Wrap(err, "read container archive")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		f, err := os.Create(pcap)
		if err != nil {
			return errors.Wrap(err, "create capture")
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return errors.Wrapf(err, "write %s", pcap)
		}
		return errors.Wrapf(f.Close(), "close %s", pcap)
	}
}

func (d *Docker) remove(id string) {
	err := d.Client.ContainerRemove(context.Background(), id, types.ContainerRemoveOptions{Force: true})
	if err != nil {
		d.logger().Warn("failed to remove capture container", zap.String("container", id), zap.Error(err))
	}
}

// network returns the docker network to capture on, filtered by name and, when set, driver.
func (d *Docker) network(ctx context.Context) (types.NetworkResource, error) {
	networkFilter := filters.NewArgs()
	networkFilter.Add("name", d.Network)
	if len(d.Driver) > 0 {
		networkFilter.Add("driver", d.Driver)
	}
	networks, err := d.Client.NetworkList(ctx, types.NetworkListOptions{
		Filters: networkFilter,
	})
	if err != nil {
		return types.NetworkResource{}, errors.Wrap(err, "list docker networks")
	}
	if len(networks) < 1 {
		return types.NetworkResource{}, errors.Errorf("there is no network %q (driver %q)", d.Network, d.Driver)
	}
	return networks[0], nil
}

// NetnsArg is the nsenter flag entering the namespace of a docker network.
func NetnsArg(networkID string) string {
	short := networkID
	if len(short) > 10 {
		short = short[:10]
	}
	return "--net=" + netnsDir + "/1-" + short
}

// runningExec is an exec attached to its output stream.
type runningExec struct {
	id   string
	resp types.HijackedResponse
}

// startExec creates a command in the container and attaches to it. The command is running
// when it returns.
func (d *Docker) startExec(ctx context.Context, containerID string, command []string) (*runningExec, error) {
	config := types.ExecConfig{
		AttachStderr: true,
		AttachStdout: true,
		Cmd:          command,
	}
	created, err := d.Client.ContainerExecCreate(ctx, containerID, config)
	if err != nil {
		return nil, errors.Wrap(err, "create exec")
	}

	resp, err := d.Client.ContainerExecAttach(ctx, created.ID, config)
	if err != nil {
		return nil, errors.Wrap(err, "attach exec")
	}
	return &runningExec{id: created.ID, resp: resp}, nil
}

// wait drains the demultiplexed output of an exec and returns its exit code.
func (d *Docker) wait(ctx context.Context, ex *runningExec) (execResult, error) {
	var result execResult
	defer ex.resp.Close()

	var outBuf, errBuf bytes.Buffer
	outputDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&outBuf, &errBuf, ex.resp.Reader)
		outputDone <- err
	}()

	select {
	case err := <-outputDone:
		if err != nil {
			return result, errors.Wrap(err, "read exec output")
		}
	case <-ctx.Done():
		return result, ctx.Err()
	}

	res, err := d.Client.ContainerExecInspect(ctx, ex.id)
	if err != nil {
		return result, errors.Wrap(err, "inspect exec")
	}

	result.ExitCode = res.ExitCode
	result.StdOut = outBuf.String()
	result.StdErr = errBuf.String()
	return result, nil
}

// exec runs a command in the container and collects its output.
func (d *Docker) exec(ctx context.Context, containerID string, command []string) (execResult, error) {
	ex, err := d.startExec(ctx, containerID, command)
	if err != nil {
		return execResult{}, err
	}
	return d.wait(ctx, ex)
}

func (d *Docker) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
