// Package engine wires all Conduct subsystems together and provides
// the primary application-level API for registering and admitting work.
//
// The engine package exists to break a fundamental import cycle: the
// root conduct package defines Entity (imported by command, workflow,
// cron, etc.) and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	rt, err := conduct.New(
//	    conduct.WithStore(pgStore),
//	    conduct.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(rt,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:      "critical",
//	        RateLimit: 100,
//	    }),
//	)
//
// # Registering Work
//
//	// Commands
//	engine.Register(eng, chargeCard)
//
//	// Workflows
//	eng.RegisterWorkflow(processOrder)
//
//	// Crons
//	engine.RegisterCron(ctx, eng, dailyReport)
//
// # Admitting Commands
//
//	engine.Admit(ctx, eng, "charge.card", ChargeInput{OrderID: "ord_1"})
//
//	// Full control over the draft
//	eng.AdmitDraft(ctx, command.Draft{
//	    Type:           "charge.card",
//	    Payload:        data,
//	    IdempotencyKey: "order:ord_1:charge",
//	    Queue:          "payments",
//	})
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithQueueConfig] — configure per-queue rate limits and concurrency
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
