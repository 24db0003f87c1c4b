package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"deepintrospect/backend/internal/graph"
)

func TestPrintStatements(t *testing.T) {
	var buf bytes.Buffer
	printStatements(&buf)
	out := buf.String()

	assert.Equal(t, len(graph.ConstraintStatements()), strings.Count(out, "CREATE CONSTRAINT"))
	assert.Contains(t, out, "FOR (n:User) REQUIRE n.id IS UNIQUE")
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS insights")
}
