// Package logging builds the process logger and carries request-scoped
// loggers through context.
//
//	logger, err := logging.New(logging.OptionsFromEnv(), os.Stdout)
//	slog.SetDefault(logger)
//
//	func handle(ctx context.Context) {
//	    logging.FromContext(ctx).Info("processing request")
//	}
package logging
