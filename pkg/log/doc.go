/*
Package log provides structured logging via zerolog: a global Logger
initialized once via Init, plus WithComponent/WithHost/WithReferenceID/
WithWorkerID child-logger constructors for attaching context fields without
threading a logger through every call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("reference_id", id).Msg("leased")
*/
package log
