// Package logger provee el logger zap del gate: singleton + scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia global, inicializada con Init() en main.
//   - Scoping: cada ciclo del gate recibe un logger con request_id, session y
//     provider_key sin crear un core nuevo.
//   - Formatos: "prod" JSON; "dev" consola en una TTY, logfmt si no.
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Info("gate cycle", logger.State("LANDED"), logger.ProviderKey("root-block"))
package logger
