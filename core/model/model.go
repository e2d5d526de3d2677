/*
SPDX-License-Identifier: Apache-2.0

Copyright 2024 The Taxinomia Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package model puts the row pipeline together. Client holds every row in
// memory and runs the whole pipeline locally. Server keeps blocks of rows
// fetched from a data source and delegates filtering, grouping, aggregation
// and sorting to it.
package model

import (
	"errors"
	"slices"
	"strings"

	"github.com/google/rowmodel/datasources"
)

var (
	// ErrUnknownRow is returned for a row id the model does not hold.
	ErrUnknownRow = errors.New("unknown row")
	// ErrClientSideOnly is returned by the server model for features that
	// need every row in memory.
	ErrClientSideOnly = errors.New("only supported by the client side row model")
)

// Step is a stage of the client pipeline.
type Step int

// Steps in pipeline order. A mutation marks the earliest step it
// invalidates and every later step runs again.
const (
	StepNone Step = iota
	StepFilter
	StepGroup
	StepPivot
	StepAggregate
	StepPostFilter
	StepSort
	StepFlatten
)

var stepNames = [...]string{"none", "filter", "group", "pivot", "aggregate", "post-filter", "sort", "flatten"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return "unknown"
	}
	return stepNames[s]
}

// stepsFrom lists the steps that run when from is the earliest dirty step.
func stepsFrom(from Step) []Step {
	if from == StepNone {
		return nil
	}
	var out []Step
	for s := from; s <= StepFlatten; s++ {
		out = append(out, s)
	}
	return out
}

// EventKind classifies an Event.
type EventKind int

const (
	// ModelUpdated follows every change of the displayed rows.
	ModelUpdated EventKind = iota
	// FetchFailed reports a data source error.
	FetchFailed
)

func (k EventKind) String() string {
	if k == FetchFailed {
		return "fetch-failed"
	}
	return "model-updated"
}

// Event is sent to listeners once per logical change.
type Event struct {
	Kind EventKind
	// Steps are the pipeline steps that ran, in order. Empty for the server
	// model.
	Steps           []Step
	RowCount        int
	RowCountChanged bool
	// Request and Err describe a failed fetch.
	Request *datasources.Request
	Err     error
}

func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	for _, s := range e.Steps {
		b.WriteString(" ")
		b.WriteString(s.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// listeners is a registry of event callbacks. The owning model guards it.
type listeners struct {
	next int
	fns  map[int]func(Event)
}

func (l *listeners) add(fn func(Event)) int {
	if l.fns == nil {
		l.fns = make(map[int]func(Event))
	}
	l.next++
	l.fns[l.next] = fn
	return l.next
}

func (l *listeners) remove(id int) {
	delete(l.fns, id)
}

// snapshot returns the callbacks in registration order.
func (l *listeners) snapshot() []func(Event) {
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = l.fns[id]
	}
	return out
}

func notify(fns []func(Event), events []Event) {
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
