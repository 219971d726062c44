package main

import (
	"novelarc/cmd/novelarc/commands"
	"novelarc/lib/telemetry"
	"novelarc/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "novelarc")
	telemetry.InitSlog(true)
	telemetry.InstrumentPerfStats(ctx)
	commands.ExecuteContext(ctx)
}
