package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/adnanbaig/browserfarm/internal/config"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// DockerLauncher runs each engine as its own container
type DockerLauncher struct {
	client *client.Client
	image  string
}

func NewDockerLauncher(imageName string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerLauncher{
		client: cli,
		image:  imageName,
	}, nil
}

func (l *DockerLauncher) Launch(ctx context.Context, instanceID string, spec *config.LaunchSpec) (Engine, error) {
	env := []string{
		"CONNECTION_TIMEOUT=-1",
		"MAX_CONCURRENT_SESSIONS=1",
		"PREBOOT_CHROME=true",
		"KEEP_ALIVE=true",
		"EXIT_ON_HEALTH_FAILURE=false",
		fmt.Sprintf("DEFAULT_LAUNCH_ARGS=%s", launchArgsJSON(spec)),
	}
	env = append(env, spec.Env...)

	containerConfig := &container.Config{
		Image: l.image,
		Labels: map[string]string{
			"instance-id": instanceID,
			"managed-by":  "browserfarm",
		},
		Env: env,
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := l.client.ContainerCreate(
		ctx,
		containerConfig,
		hostConfig,
		nil,
		nil,
		fmt.Sprintf("instance-%s", shortID(instanceID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.removeContainer(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := l.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.removeContainer(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		l.removeContainer(resp.ID)
		return nil, fmt.Errorf("container %s exposes no debug port", resp.ID)
	}
	port := bindings[0].HostPort

	if err := waitForEngineReady(ctx, port); err != nil {
		l.removeContainer(resp.ID)
		return nil, fmt.Errorf("engine failed to become ready: %w", err)
	}

	connectURL := fmt.Sprintf("ws://localhost:%s", port)
	return l.connect(ctx, resp.ID, connectURL)
}

// Attach reconnects to a still-running container from a persisted
// session record, used during startup reconciliation
func (l *DockerLauncher) Attach(ctx context.Context, rec models.SessionRecord) (Engine, error) {
	inspect, err := l.client.ContainerInspect(ctx, rec.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", rec.ContainerID, err)
	}
	if !inspect.State.Running {
		return nil, fmt.Errorf("container %s is not running", rec.ContainerID)
	}

	return l.connect(ctx, rec.ContainerID, rec.ConnectURL)
}

func (l *DockerLauncher) connect(ctx context.Context, containerID, connectURL string) (Engine, error) {
	wire, err := dialWire(ctx, connectURL)
	if err != nil {
		l.removeContainer(containerID)
		return nil, fmt.Errorf("failed to connect to engine: %w", err)
	}

	adapter, err := newAdapter(ctx, wire)
	if err != nil {
		wire.close()
		l.removeContainer(containerID)
		return nil, err
	}

	return &dockerEngine{
		launcher:    l,
		containerID: containerID,
		connectURL:  connectURL,
		wire:        wire,
		Adapter:     adapter,
	}, nil
}

// Probe reports whether the recorded container is still reachable
func (l *DockerLauncher) Probe(ctx context.Context, rec models.SessionRecord) bool {
	inspect, err := l.client.ContainerInspect(ctx, rec.ContainerID)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// EnsureImage pulls the engine image if it is not present locally
func (l *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.image {
				return nil
			}
		}
	}

	reader, err := l.client.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

func (l *DockerLauncher) stopContainer(ctx context.Context, containerID string) error {
	timeout := 10
	stopOptions := container.StopOptions{
		Timeout: &timeout,
	}

	if err := l.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// removeContainer is best-effort cleanup on failed launches
func (l *DockerLauncher) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = l.stopContainer(ctx, containerID)
}

// dockerEngine pairs a container with its protocol connection. Target
// operations are delegated to the embedded version adapter.
type dockerEngine struct {
	Adapter

	launcher    *DockerLauncher
	containerID string
	connectURL  string
	wire        *wireClient
}

func (e *dockerEngine) ContainerID() string {
	return e.containerID
}

func (e *dockerEngine) ConnectURL() string {
	return e.connectURL
}

func (e *dockerEngine) Close(ctx context.Context) error {
	_ = e.wire.close()
	return e.launcher.stopContainer(ctx, e.containerID)
}

// waitForEngineReady polls the version endpoint until the debug socket
// answers
func waitForEngineReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	maxRetries := 20 // 10 seconds total (20 * 500ms)

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				// Give the WebSocket endpoint a moment to settle
				time.Sleep(500 * time.Millisecond)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("engine did not become ready after %d retries", maxRetries)
}

func launchArgsJSON(spec *config.LaunchSpec) string {
	args := []string{
		fmt.Sprintf("--window-size=%d,%d", spec.WindowWidth, spec.WindowHeight),
	}
	if spec.Headless {
		args = append(args, "--headless=new")
	}
	if spec.Proxy != "" {
		args = append(args, "--proxy-server="+spec.Proxy)
	}
	if spec.UserAgent != "" {
		args = append(args, "--user-agent="+spec.UserAgent)
	}
	if spec.Stealth {
		args = append(args,
			"--disable-blink-features=AutomationControlled",
			"--disable-infobars",
			"--no-first-run",
			"--no-default-browser-check",
		)
	}
	// Caller-supplied arguments keep their order and go last so they
	// can override the defaults above
	args = append(args, spec.Args...)

	encoded, err := json.Marshal(args)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
