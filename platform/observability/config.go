package observability

// Config настройки OpenTelemetry (traces + metrics + propagator)
type Config struct {
	// Enabled экспортировать в OTLP collector; иначе ставятся noop providers
	Enabled bool
	// OTLPEndpoint адрес OTLP gRPC, например "127.0.0.1:4317" или "otel-collector:4317"
	OTLPEndpoint string
	// SamplingRatio доля семплируемых трасс (0..1)
	SamplingRatio float64
	ServiceName   string
	// DeploymentEnvironment local / docker
	DeploymentEnvironment string
	ServiceVersion        string
}
