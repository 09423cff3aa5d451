// SmartGuard - Log Query and Analytics Engine
//
// SmartGuard stores service logs, interprets natural-language questions
// about them and reports service health, timelines and error spikes.
package main

import (
	"os"

	"github.com/ccollicutt/smartguard/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
