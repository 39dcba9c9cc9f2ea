// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package txn

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	jsoniter "github.com/json-iterator/go"
	"github.com/tablestore/tablestore/dbtable"
)

// StepKind is the kind of a transaction step.
type StepKind uint8

const (
	StepCleanTable StepKind = iota
	StepCleanPartitions
	StepDeleteRows
	StepInsertOrReplace
)

var stepKindNames = map[StepKind]string{
	StepCleanTable:      "CleanTable",
	StepCleanPartitions: "CleanPartitions",
	StepDeleteRows:      "DeleteRows",
	StepInsertOrReplace: "InsertOrReplace",
}

// String implements fmt.Stringer.
func (k StepKind) String() string {
	if s, ok := stepKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("StepKind(%d)", k)
}

// Step is one buffered operation of a transaction. Which fields are set
// depends on Kind.
type Step struct {
	Kind  StepKind
	Table string

	// PartitionKeys are the partitions removed by StepCleanPartitions.
	PartitionKeys []string
	// RowKeys maps partition key to row keys for StepDeleteRows.
	RowKeys map[string][]string
	// Rows are written by StepInsertOrReplace, in order.
	Rows []*dbtable.Row
}

// Validate checks that the step is well formed.
func (s *Step) Validate() error {
	if err := dbtable.ValidateTableName(s.Table); err != nil {
		return err
	}
	switch s.Kind {
	case StepCleanTable:
	case StepCleanPartitions:
		if len(s.PartitionKeys) == 0 {
			return validationErrorf("%s step has no partition keys", s.Kind)
		}
		for _, pk := range s.PartitionKeys {
			if err := dbtable.ValidateKey("partition key", pk); err != nil {
				return err
			}
		}
	case StepDeleteRows:
		if len(s.RowKeys) == 0 {
			return validationErrorf("%s step has no row keys", s.Kind)
		}
		for pk, rks := range s.RowKeys {
			if err := dbtable.ValidateKey("partition key", pk); err != nil {
				return err
			}
			for _, rk := range rks {
				if err := dbtable.ValidateKey("row key", rk); err != nil {
					return err
				}
			}
		}
	case StepInsertOrReplace:
		if len(s.Rows) == 0 {
			return validationErrorf("%s step has no entities", s.Kind)
		}
	default:
		return validationErrorf("unknown step kind %d", s.Kind)
	}
	return nil
}

// Apply performs the step through w.
func (s *Step) Apply(w *dbtable.Writer) {
	switch s.Kind {
	case StepCleanTable:
		w.CleanTable()
	case StepCleanPartitions:
		w.CleanPartitions(s.PartitionKeys)
	case StepDeleteRows:
		w.DeleteRows(s.RowKeys)
	case StepInsertOrReplace:
		w.InsertOrReplace(s.Rows)
	default:
		panic(errors.AssertionFailedf("unknown step kind %d", s.Kind))
	}
}

// SafeFormat implements redact.SafeFormatter.
func (s *Step) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s(%s", redact.SafeString(s.Kind.String()), redact.SafeString(s.Table))
	switch s.Kind {
	case StepCleanPartitions:
		w.Printf(" partitions=%d", len(s.PartitionKeys))
	case StepDeleteRows:
		n := 0
		for _, rks := range s.RowKeys {
			n += len(rks)
		}
		w.Printf(" rows=%d", n)
	case StepInsertOrReplace:
		w.Printf(" rows=%d", len(s.Rows))
	}
	w.SafeRune(')')
}

// String implements fmt.Stringer.
func (s *Step) String() string {
	return redact.StringWithoutMarkers(s)
}

// wireStep is the JSON form of a step.
//
//	{"type":"CleanTable","tableName":"orders"}
//	{"type":"CleanPartitions","tableName":"orders","partitionKeys":["A","B"]}
//	{"type":"DeleteRows","tableName":"orders","partitionKey":"A","rowKeys":["1"]}
//	{"type":"InsertOrReplace","tableName":"orders","entities":[{...}]}
//
// An InsertOrReplace step may name a partitionKey; its entities must then
// all belong to that partition.
type wireStep struct {
	Type          string                `json:"type"`
	TableName     string                `json:"tableName"`
	PartitionKey  string                `json:"partitionKey,omitempty"`
	PartitionKeys []string              `json:"partitionKeys,omitempty"`
	RowKeys       []string              `json:"rowKeys,omitempty"`
	Entities      []jsoniter.RawMessage `json:"entities,omitempty"`
}

var stepsAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeSteps parses a JSON array of steps and validates each of them.
func DecodeSteps(data []byte) ([]Step, error) {
	var wire []wireStep
	if err := stepsAPI.Unmarshal(data, &wire); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding transaction steps"), dbtable.ErrValidation)
	}
	steps := make([]Step, 0, len(wire))
	for i := range wire {
		s, err := wire[i].decode()
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", i)
		}
		if err := s.Validate(); err != nil {
			return nil, errors.Wrapf(err, "step %d", i)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (ws *wireStep) decode() (Step, error) {
	s := Step{Table: ws.TableName}
	switch ws.Type {
	case "CleanTable":
		s.Kind = StepCleanTable
	case "CleanPartitions", "DeletePartitions":
		s.Kind = StepCleanPartitions
		s.PartitionKeys = ws.PartitionKeys
		if ws.PartitionKey != "" {
			s.PartitionKeys = append(s.PartitionKeys, ws.PartitionKey)
		}
	case "DeleteRows":
		s.Kind = StepDeleteRows
		if ws.PartitionKey == "" {
			return Step{}, validationErrorf("DeleteRows step has no partitionKey")
		}
		s.RowKeys = map[string][]string{ws.PartitionKey: ws.RowKeys}
	case "InsertOrReplace", "InsertOrReplaceEntities":
		s.Kind = StepInsertOrReplace
		for _, e := range ws.Entities {
			row, err := dbtable.ParseRow(e)
			if err != nil {
				return Step{}, err
			}
			if ws.PartitionKey != "" && row.PartitionKey != ws.PartitionKey {
				return Step{}, validationErrorf(
					"entity partition key %q does not match step partition key %q", row.PartitionKey, ws.PartitionKey)
			}
			s.Rows = append(s.Rows, row)
		}
	default:
		return Step{}, validationErrorf("unknown step type %q", ws.Type)
	}
	return s, nil
}

func validationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), dbtable.ErrValidation)
}
