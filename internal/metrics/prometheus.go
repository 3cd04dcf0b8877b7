package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatbotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartclass_chatbot_duration_seconds",
			Help:    "Chatbot ask latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	ChatbotTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_chatbot_requests_total",
			Help: "Chatbot asks by outcome kind",
		},
		[]string{"status"},
	)

	DocumentsSelected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartclass_chatbot_documents_selected",
			Help:    "Documents chosen by the relevance scorer per ask",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	MaterializeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smartclass_materialize_failures_total",
			Help: "Selected documents dropped because fetch or extraction failed",
		},
	)

	RetrievalDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smartclass_retrieval_degraded_total",
			Help: "Asks answered without grounding because the preview store failed",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_llm_tokens_used_total",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_llm_requests_total",
			Help: "LLM completion calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	MaterialsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_materials_processed_total",
			Help: "Uploaded materials processed into quizzes",
		},
		[]string{"status"},
	)

	ExamsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_exams_generated_total",
			Help: "Exam papers generated",
		},
		[]string{"status"},
	)

	ResultsScraped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartclass_results_scraped_total",
			Help: "Result lookups against the results site",
		},
		[]string{"status"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartclass_chat_sessions_active",
			Help: "Chat sessions held in memory",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ChatbotDuration,
			ChatbotTotal,
			DocumentsSelected,
			MaterializeFailures,
			RetrievalDegraded,
			LLMTokensUsed,
			LLMRequests,
			CacheHits,
			CacheMisses,
			MaterialsProcessed,
			ExamsGenerated,
			ResultsScraped,
			ActiveSessions,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
