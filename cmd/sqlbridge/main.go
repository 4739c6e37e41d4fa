package main

import "go.sqlbridge.dev/core/cmd/sqlbridge/sqlbridgecmd"

func main() { sqlbridgecmd.Execute() }
