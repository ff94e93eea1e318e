package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	spawns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anvil",
		Name:      "spawns_total",
		Help:      "Total subprocess spawn attempts, partitioned by outcome.",
	}, []string{"program", "outcome"})

	waitOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anvil",
		Name:      "waits_total",
		Help:      "Total subprocess waits, partitioned by outcome (exited, timeout, error).",
	}, []string{"outcome"})

	lockAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anvil",
		Name:      "lock_acquisitions_total",
		Help:      "Total file lock acquisitions, partitioned by mode and reentrancy.",
	}, []string{"mode", "reentrant"})

	taskResumes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anvil",
		Name:      "task_resumes_total",
		Help:      "Total cooperative task resumptions issued by the driver.",
	})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "anvil",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of completed jobs in seconds.",
	}, []string{"job"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "anvil",
		Name:      "build_info",
		Help:      "Build metadata for the running anvil binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(spawns, waitOutcomes, lockAcquisitions, taskResumes, jobDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all anvil metrics.
func Registry() *prometheus.Registry {
	return registry
}

// RecordSpawn counts a spawn attempt for the named program.
func RecordSpawn(program string, ok bool) {
	if program == "" {
		program = "unknown"
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	spawns.WithLabelValues(program, outcome).Inc()
}

// RecordWait counts a wait outcome.
func RecordWait(outcome string) {
	waitOutcomes.WithLabelValues(outcome).Inc()
}

// RecordLockAcquisition counts a successful lock or trylock.
func RecordLockAcquisition(shared, reentrant bool) {
	mode := "exclusive"
	if shared {
		mode = "shared"
	}
	nested := "false"
	if reentrant {
		nested = "true"
	}
	lockAcquisitions.WithLabelValues(mode, nested).Inc()
}

// RecordTaskResume counts one resumption issued by the task driver.
func RecordTaskResume() {
	taskResumes.Inc()
}

// ObserveJobDuration records the wall-clock duration of a completed job.
func ObserveJobDuration(job string, d time.Duration) {
	label := job
	if label == "" {
		label = "unknown"
	}
	jobDuration.WithLabelValues(label).Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
