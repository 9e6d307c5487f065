package main

import (
	"github.com/joho/godotenv"

	"github.com/textport/textport/internal/cli"
	"github.com/textport/textport/internal/common/logtrace"
)

func init() {
	// A .env file in the working directory can supply TEXTPORT_* overrides
	// during development. Missing files are ignored.
	godotenv.Load()
	logtrace.InitLogger()
}

func main() {
	cli.Execute()
}
