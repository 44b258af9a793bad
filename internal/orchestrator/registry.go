package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gluk-w/claworc/terminal-server/internal/config"
)

var (
	current ContainerOrchestrator
	mu      sync.RWMutex
)

type candidate struct {
	name  string
	build func() ContainerOrchestrator
}

// Probe order for "auto": a cluster is preferred over a local daemon.
var candidates = []candidate{
	{"kubernetes", func() ContainerOrchestrator { return &KubernetesOrchestrator{} }},
	{"docker", func() ContainerOrchestrator { return &DockerOrchestrator{} }},
}

// InitOrchestrator selects the container backend once at startup. The
// platform comes from the environment only, so "auto" probes again on every
// start instead of remembering an earlier pick.
func InitOrchestrator(ctx context.Context) error {
	platform := config.Cfg.ContainerPlatform
	if platform == "" {
		platform = "auto"
	}

	for _, c := range candidates {
		if platform != "auto" && platform != c.name {
			continue
		}
		o := c.build()
		if err := o.Initialize(ctx); err != nil {
			log.Printf("[orchestrator] %s backend unavailable: %v", c.name, err)
			continue
		}
		if !o.IsAvailable(ctx) {
			log.Printf("[orchestrator] %s backend not available", c.name)
			continue
		}
		mu.Lock()
		current = o
		mu.Unlock()
		log.Printf("[orchestrator] Using %s backend", o.BackendName())
		return nil
	}

	log.Println("[orchestrator] WARNING: No container backend available")
	return fmt.Errorf("no orchestrator backend available (tried: %s)", platform)
}

func Get() ContainerOrchestrator {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
