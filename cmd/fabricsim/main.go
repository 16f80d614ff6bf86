// Command fabricsim drives a fabric.Coordinator through a scenario file
// so its admission, wake-chain, and cycle-detection behavior can be
// watched end to end. It is example tooling around the coordinator
// library, not part of the coordinator's own API surface.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/10yihang/devicefabric/internal/fabric"
	"github.com/10yihang/devicefabric/internal/fabricmetrics"
)

var (
	scenarioPath = flag.String("scenario", "", "path to a JSON scenario file")
	metricsAddr  = flag.String("metrics-addr", "", "address to serve /metrics on (disabled if empty)")
	workDelay    = flag.Duration("work-delay", 5*time.Millisecond, "simulated duration of each Prepare/Perform call")
)

// scenario is the on-disk description of a run: the fixed device set, an
// initial placement, and the transfers to submit concurrently.
type scenario struct {
	Devices   map[string]int    `json:"devices"`
	Placement map[string]string `json:"placement"`
	Transfers []transferSpec    `json:"transfers"`
}

type transferSpec struct {
	Component string `json:"component"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func main() {
	flag.Parse()

	if *scenarioPath == "" {
		log.Fatal("fabricsim: -scenario is required")
	}

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("fabricsim: %v", err)
	}

	coord, err := fabric.NewCoordinator(sc.Devices, sc.Placement)
	if err != nil {
		log.Fatalf("fabricsim: could not build coordinator: %v", err)
	}
	coord.SetRecorder(fabricmetrics.PrometheusRecorder{})

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Printf("fabricsim: serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Printf("fabricsim: metrics server stopped: %v", err)
			}
		}()
	}

	var wg sync.WaitGroup
	for i, spec := range sc.Transfers {
		wg.Add(1)
		go func(i int, spec transferSpec) {
			defer wg.Done()
			t := &simTransfer{
				component: spec.Component,
				from:      spec.From,
				to:        spec.To,
				delay:     *workDelay,
			}
			start := time.Now()
			if err := coord.Execute(t); err != nil {
				log.Printf("transfer[%d] %s: rejected: %v", i, spec.Component, err)
				return
			}
			log.Printf("transfer[%d] %s: completed in %s", i, spec.Component, time.Since(start))
		}(i, spec)
	}
	wg.Wait()

	log.Printf("fabricsim: all %d transfers finished", len(sc.Transfers))
}

func loadScenario(path string) (*scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	var sc scenario
	if err := json.NewDecoder(f).Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

// simTransfer is the fabric.Transfer implementation this harness submits.
// Prepare and Perform just sleep for workDelay to give concurrent
// transfers a chance to interleave and exercise the wait queues.
type simTransfer struct {
	component string
	from, to  string
	delay     time.Duration
}

func (t *simTransfer) ComponentID() string { return t.component }

func (t *simTransfer) SourceDevice() (string, bool) {
	return t.from, t.from != ""
}

func (t *simTransfer) DestinationDevice() (string, bool) {
	return t.to, t.to != ""
}

func (t *simTransfer) Prepare() { time.Sleep(t.delay) }
func (t *simTransfer) Perform() { time.Sleep(t.delay) }
