package driver

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"cph-engine/internal/errs"
	"cph-engine/internal/logging"
)

// ContainerResult is the outcome of a container run.
type ContainerResult struct {
	ContainerID string
	Stdout      string
	Stderr      string
	ReturnCode  int
}

// Container is the driver interface over the container runtime. Every
// method constructs and executes exactly one Docker Engine API call
// sequence; nothing here shells out to the docker CLI binary.
type Container interface {
	ImageBuild(ctx context.Context, contextDir, dockerfile, language string) (string, error)
	ImagePull(ctx context.Context, ref string) error
	ContainerRun(ctx context.Context, image string, cmd []string, workdir string, mounts, ports map[string]string, timeout time.Duration) (ContainerResult, error)
	ContainerStop(ctx context.Context, containerID string, timeout time.Duration) error
	ContainerRemove(ctx context.Context, containerID string) error
	ContainerPS(ctx context.Context, labelFilter map[string]string) ([]string, error)
	Close() error
}

// DockerContainer is the real Docker Engine API-backed Container.
type DockerContainer struct {
	api *client.Client
}

var _ Container = (*DockerContainer)(nil)

// NewDockerContainer connects to the local Docker daemon via the
// environment-configured client (DOCKER_HOST, TLS, API version
// negotiation), the same discovery the Docker CLI itself uses.
func NewDockerContainer() (*DockerContainer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errs.Wrap(errs.CodeDriverContainer, "docker client init failed", err)
	}
	return &DockerContainer{api: cli}, nil
}

func (d *DockerContainer) Close() error {
	if d == nil || d.api == nil {
		return nil
	}
	return d.api.Close()
}

// hash12 is the Naming Rule's content-addressed fragment: the first 12
// hex characters of the content's sha256 digest.
func hash12(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:12]
}

// imageName computes the canonical image_name per the Naming Rule:
// "{language}-{hash12(dockerfile_content)}".
func imageName(language string, dockerfileContent []byte) string {
	return language + "-" + hash12(dockerfileContent)
}

// containerName computes the canonical container_name per the Naming
// Rule: "{image_name}-{uuid8}".
func containerName(image string) string {
	return image + "-" + uuid.NewString()[:8]
}

func (d *DockerContainer) ImageBuild(ctx context.Context, contextDir, dockerfile, language string) (string, error) {
	content, err := os.ReadFile(filepath.Join(contextDir, dockerfile))
	if err != nil {
		return "", errs.Wrap(errs.CodeDriverContainer, "reading dockerfile", err)
	}
	tag := imageName(language, content)
	logging.DriverDebug("container: build %s from %s (dockerfile=%s)", tag, contextDir, dockerfile)

	buf, err := tarDirectory(contextDir)
	if err != nil {
		return "", errs.Wrap(errs.CodeDriverContainer, "image build tar failed", err)
	}
	resp, err := d.api.ImageBuild(ctx, buf, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return "", errs.Wrap(errs.CodeDriverContainer, "image build failed", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", errs.Wrap(errs.CodeDriverContainer, "image build stream read failed", err)
	}
	return tag, nil
}

func (d *DockerContainer) ImagePull(ctx context.Context, ref string) error {
	logging.DriverDebug("container: pull %s", ref)
	rc, err := d.api.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return errs.Wrap(errs.CodeDriverContainer, "image pull failed", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errs.Wrap(errs.CodeDriverContainer, "image pull stream read failed", err)
	}
	return nil
}

func (d *DockerContainer) ContainerRun(ctx context.Context, image string, cmd []string, workdir string, mounts, ports map[string]string, timeout time.Duration) (ContainerResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var binds []string
	for host, cont := range mounts {
		binds = append(binds, fmt.Sprintf("%s:%s", host, cont))
	}

	exposedPorts, portBindings, err := buildPortMap(ports)
	if err != nil {
		return ContainerResult{}, errs.Wrap(errs.CodeDriverContainer, "invalid port spec", err)
	}

	name := containerName(image)
	logging.DriverDebug("container: run %s image=%s cmd=%v ports=%v", name, image, cmd, ports)

	created, err := d.api.ContainerCreate(runCtx, &container.Config{
		Image:        image,
		Cmd:          cmd,
		WorkingDir:   workdir,
		Tty:          false,
		ExposedPorts: exposedPorts,
	}, &container.HostConfig{
		Binds:        binds,
		PortBindings: portBindings,
		AutoRemove:   false,
	}, nil, nil, name)
	if err != nil {
		return ContainerResult{}, errs.Wrap(errs.CodeDriverContainer, "container create failed", err)
	}

	if err := d.api.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return ContainerResult{ContainerID: created.ID}, errs.Wrap(errs.CodeDriverContainer, "container start failed", err)
	}

	statusCh, errCh := d.api.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var returnCode int
	select {
	case err := <-errCh:
		if err != nil {
			return ContainerResult{ContainerID: created.ID}, errs.Wrap(errs.CodeDriverContainer, "container wait failed", err)
		}
	case status := <-statusCh:
		returnCode = int(status.StatusCode)
	case <-runCtx.Done():
		return ContainerResult{ContainerID: created.ID}, errs.New(errs.CodeExecTimeout, "container run exceeded timeout "+timeout.String())
	}

	logsReader, err := d.api.ContainerLogs(runCtx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ContainerResult{ContainerID: created.ID, ReturnCode: returnCode}, errs.Wrap(errs.CodeDriverContainer, "container logs failed", err)
	}
	defer logsReader.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logsReader); err != nil {
		_, _ = io.Copy(&stdout, logsReader)
	}

	return ContainerResult{
		ContainerID: created.ID,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		ReturnCode:  returnCode,
	}, nil
}

func (d *DockerContainer) ContainerStop(ctx context.Context, containerID string, timeout time.Duration) error {
	logging.DriverDebug("container: stop %s", containerID)
	seconds := int(timeout.Seconds())
	if err := d.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return errs.Wrap(errs.CodeDriverContainer, "container stop failed", err)
	}
	return nil
}

func (d *DockerContainer) ContainerRemove(ctx context.Context, containerID string) error {
	logging.DriverDebug("container: remove %s", containerID)
	if err := d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return errs.Wrap(errs.CodeDriverContainer, "container remove failed", err)
	}
	return nil
}

func (d *DockerContainer) ContainerPS(ctx context.Context, labelFilter map[string]string) ([]string, error) {
	args := filters.NewArgs()
	for k, v := range labelFilter {
		args.Add("label", k+"="+v)
	}
	list, err := d.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, errs.Wrap(errs.CodeDriverContainer, "container list failed", err)
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// buildPortMap turns a containerPort->hostPort spec (e.g.
// {"8080/tcp": "8080"}) into the ExposedPorts/PortBindings shapes the
// Docker Engine API expects.
func buildPortMap(ports map[string]string) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for containerPort, hostPort := range ports {
		spec := containerPort
		if !strings.Contains(spec, "/") {
			spec += "/tcp"
		}
		p, err := nat.NewPort(strings.Split(spec, "/")[1], strings.Split(spec, "/")[0])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing container port %q: %w", containerPort, err)
		}
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}
	return exposed, bindings, nil
}

// HostPortFor reports the host port bound for containerPort on a running
// container, for callers that need to reach a service cph started.
func (d *DockerContainer) HostPortFor(ctx context.Context, containerID, containerPort string) (string, error) {
	info, err := d.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", errs.Wrap(errs.CodeDriverContainer, "container inspect failed", err)
	}
	key := nat.Port(containerPort)
	bindings, ok := info.NetworkSettings.Ports[key]
	if !ok || len(bindings) == 0 {
		return "", errs.New(errs.CodeDriverContainer, "no host port bound for "+containerPort)
	}
	return bindings[0].HostPort, nil
}

// tarDirectory walks dir recursively and packs every regular file and
// directory into a tar archive suitable for ImageBuild's build context,
// with entry names relative to dir and using forward slashes.
func tarDirectory(dir string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// MockContainer is a scripted Container used by Executor tests.
type MockContainer struct {
	RunResult ContainerResult
	Calls     []string
}

var _ Container = (*MockContainer)(nil)

func NewMockContainer() *MockContainer { return &MockContainer{} }

func (m *MockContainer) ImageBuild(ctx context.Context, contextDir, dockerfile, language string) (string, error) {
	name := language + "-mock"
	m.Calls = append(m.Calls, "build "+name)
	return name, nil
}

func (m *MockContainer) ImagePull(ctx context.Context, ref string) error {
	m.Calls = append(m.Calls, "pull "+ref)
	return nil
}

func (m *MockContainer) ContainerRun(ctx context.Context, image string, cmd []string, workdir string, mounts, ports map[string]string, timeout time.Duration) (ContainerResult, error) {
	m.Calls = append(m.Calls, "run "+image)
	if m.RunResult.ContainerID == "" {
		m.RunResult.ContainerID = "mock-" + image
	}
	return m.RunResult, nil
}

func (m *MockContainer) ContainerStop(ctx context.Context, containerID string, timeout time.Duration) error {
	m.Calls = append(m.Calls, "stop "+containerID)
	return nil
}

func (m *MockContainer) ContainerRemove(ctx context.Context, containerID string) error {
	m.Calls = append(m.Calls, "remove "+containerID)
	return nil
}

func (m *MockContainer) ContainerPS(ctx context.Context, labelFilter map[string]string) ([]string, error) {
	return nil, nil
}

func (m *MockContainer) Close() error { return nil }
