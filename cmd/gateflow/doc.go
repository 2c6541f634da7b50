/*
Package main provides the gateflow command line entry point.

cmd/gateflow loads YAML workflow definitions, validates their dependency
graphs, and executes them through the gateflow engine with the built-in
gate evaluators registered. It supports YAML configuration, structured
logging (zap), optional SQLite catalog persistence and optional Redis
execution-history archiving.

Commands:

  - run       parse, register and execute workflow definition files
  - validate  parse and register definition files without executing
  - version   show version information
  - help      show usage
*/
package main
