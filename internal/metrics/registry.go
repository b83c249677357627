package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const namespace = "ton_confirmer"

// Service names for metrics registration
const (
	ServiceConfirmer = "confirmer"
	ServiceWorker    = "worker"
	ServiceHTTP      = "http"
)

// RegisterMetrics registers metrics for the specified services with a custom registry
func RegisterMetrics(services []string, registry *prometheus.Registry, logger *logrus.Logger) {
	registerIfNotExists(collectors.NewGoCollector(), "go_collector", registry, logger)
	registerIfNotExists(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), "process_collector", registry, logger)

	for _, service := range services {
		switch service {
		case ServiceConfirmer:
			registerConfirmerMetrics(registry, logger)
		case ServiceWorker:
			registerWorkerMetrics(registry, logger)
		case ServiceHTTP:
			registerHTTPMetrics(registry, logger)
		default:
			logger.Warnf("Unknown service type for metrics registration: %s", service)
		}
	}
}

func registerIfNotExists(collector prometheus.Collector, name string, registry *prometheus.Registry, logger *logrus.Logger) {
	if err := registry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if !errors.As(err, &alreadyRegErr) {
			logger.Errorf("Failed to register %s: %v", name, err)
		}
	}
}

func registerConfirmerMetrics(registry *prometheus.Registry, logger *logrus.Logger) {
	registerIfNotExists(confirmerAttemptsTotal, "confirmer_attempts_total", registry, logger)
	registerIfNotExists(confirmerSourceErrors, "confirmer_source_errors_total", registry, logger)
	registerIfNotExists(confirmerOutcomesTotal, "confirmer_outcomes_total", registry, logger)
	registerIfNotExists(confirmerAttemptsPerPoll, "confirmer_attempts_per_poll", registry, logger)
	registerIfNotExists(confirmerPollDuration, "confirmer_poll_duration", registry, logger)
	registerIfNotExists(confirmerActivePolls, "confirmer_active_polls", registry, logger)
}

func registerWorkerMetrics(registry *prometheus.Registry, logger *logrus.Logger) {
	registerIfNotExists(workerTasksTotal, "worker_tasks_total", registry, logger)
	registerIfNotExists(workerTaskDuration, "worker_task_duration", registry, logger)
	registerIfNotExists(workerTasksActive, "worker_tasks_active", registry, logger)
	registerIfNotExists(workerErrorsTotal, "worker_errors_total", registry, logger)
	registerIfNotExists(workerLastTaskTimestamp, "worker_last_task_timestamp", registry, logger)
}

func registerHTTPMetrics(registry *prometheus.Registry, logger *logrus.Logger) {
	registerIfNotExists(httpRequestsTotal, "http_requests_total", registry, logger)
	registerIfNotExists(httpRequestDuration, "http_request_duration", registry, logger)
	registerIfNotExists(httpActiveRequests, "http_active_requests", registry, logger)
}
