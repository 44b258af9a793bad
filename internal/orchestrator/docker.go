package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
)

const gvisorRuntime = "runsc"

// gVisor containers cannot use the embedded Docker DNS resolver.
var gvisorDNS = []string{"8.8.8.8", "8.8.4.4"}

type DockerOrchestrator struct {
	client    *dockerclient.Client
	available bool
}

func (d *DockerOrchestrator) Initialize(ctx context.Context) error {
	var opts []dockerclient.Opt
	opts = append(opts, dockerclient.FromEnv)
	opts = append(opts, dockerclient.WithAPIVersionNegotiation())
	if config.Cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(config.Cfg.DockerHost))
	}

	var err error
	d.client, err = dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	_, err = d.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}

	if config.Cfg.DockerNetwork != "" {
		if err := d.ensureNetwork(ctx, config.Cfg.DockerNetwork); err != nil {
			return fmt.Errorf("docker network: %w", err)
		}
	}

	d.available = true
	log.Println("Docker daemon connected")
	return nil
}

func (d *DockerOrchestrator) ensureNetwork(ctx context.Context, name string) error {
	_, err := d.client.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	_, err = d.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{LabelApp: LabelAppValue},
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	log.Printf("Created Docker network: %s", name)
	return nil
}

func (d *DockerOrchestrator) IsAvailable(_ context.Context) bool {
	return d.available
}

func (d *DockerOrchestrator) BackendName() string {
	return "docker"
}

func (d *DockerOrchestrator) ensureImage(ctx context.Context, img string) error {
	if _, err := d.client.ImageInspect(ctx, img); err == nil {
		return nil
	}

	log.Printf("Image %s not found locally, pulling...", img)
	reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	log.Printf("Image %s pulled successfully", img)
	return nil
}

func containerPort() nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", config.Cfg.ContainerPort))
}

// buildContainerConfig assembles the create request for one terminal.
func buildContainerConfig(params CreateParams) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	memLimit, err := units.RAMInBytes(config.Cfg.MemoryLimit)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse memory limit %q: %w", config.Cfg.MemoryLimit, err)
	}

	var env []string
	for k, v := range containerEnv(params) {
		env = append(env, k+"="+v)
	}

	port := containerPort()
	containerCfg := &container.Config{
		Image:        config.Cfg.TerminalImage,
		Env:          env,
		Labels:       containerLabels(params.TerminalID),
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	hostCfg := &container.HostConfig{
		// Empty HostPort lets the daemon pick a free host port.
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}},
		Resources: container.Resources{
			NanoCPUs: int64(config.Cfg.CPULimit * 1_000_000_000),
			Memory:   memLimit,
		},
	}
	if config.Cfg.UseGVisor {
		hostCfg.Runtime = gvisorRuntime
		hostCfg.DNS = gvisorDNS
	}

	var netCfg *network.NetworkingConfig
	if config.Cfg.DockerNetwork != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				config.Cfg.DockerNetwork: {},
			},
		}
	}
	return containerCfg, hostCfg, netCfg, nil
}

func (d *DockerOrchestrator) CreateContainer(ctx context.Context, params CreateParams) (*ContainerInfo, error) {
	if err := d.ensureImage(ctx, config.Cfg.TerminalImage); err != nil {
		return nil, err
	}

	containerCfg, hostCfg, netCfg, err := buildContainerConfig(params)
	if err != nil {
		return nil, err
	}

	name := ContainerName(params.TerminalID)
	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start container: %w", err)
	}

	info := &ContainerInfo{Ref: resp.ID, Name: name}
	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		log.Printf("Inspect container %s: %v", name, err)
		return info, nil
	}
	if inspect.NetworkSettings != nil {
		if bindings := inspect.NetworkSettings.Ports[containerPort()]; len(bindings) > 0 {
			info.HostEndpoint = bindings[0].HostPort
		}
	}
	log.Printf("Created Docker container %s, host port %q", name, info.HostEndpoint)
	return info, nil
}

func (d *DockerOrchestrator) DeleteContainer(ctx context.Context, ref string) error {
	err := d.client.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// StopContainer stops and removes the container. A stopped terminal is
// restarted with a fresh container, so nothing is kept around.
func (d *DockerOrchestrator) StopContainer(ctx context.Context, ref string) error {
	timeout := 10
	if err := d.client.ContainerStop(ctx, ref, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return d.DeleteContainer(ctx, ref)
}

func (d *DockerOrchestrator) GetContainerStatus(ctx context.Context, ref string) (string, error) {
	inspect, err := d.client.ContainerInspect(ctx, ref)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("inspect container: %w", err)
	}
	if inspect.State == nil {
		return "", nil
	}
	return string(inspect.State.Status), nil
}

func (d *DockerOrchestrator) CountActiveContainers(ctx context.Context) (int, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", LabelApp+"="+LabelAppValue),
			filters.Arg("status", "running"),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}
	return len(list), nil
}

func (d *DockerOrchestrator) GetContainerStats(ctx context.Context, ref string) (*ResourceStats, error) {
	resp, err := d.client.ContainerStats(ctx, ref, false)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return calculateStats(&s), nil
}

// calculateStats mirrors the figures `docker stats` prints.
func calculateStats(s *container.StatsResponse) *ResourceStats {
	var cpuPercent float64
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && sysDelta > 0 {
		cpuPercent = cpuDelta / sysDelta * online * 100
	}

	used := float64(s.MemoryStats.Usage)
	if inactive, ok := s.MemoryStats.Stats["inactive_file"]; ok && float64(inactive) < used {
		used -= float64(inactive)
	}
	memMB := used / (1024 * 1024)
	var memPercent float64
	if s.MemoryStats.Limit > 0 {
		memPercent = used / float64(s.MemoryStats.Limit) * 100
	}

	return &ResourceStats{
		CPUPercent:    &cpuPercent,
		MemoryMB:      &memMB,
		MemoryPercent: &memPercent,
	}
}

var _ ContainerOrchestrator = (*DockerOrchestrator)(nil)
