// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config carries the declarative view/table options a
// CREATE VIEW/TABLE WITH (...) clause can set: joinMode and
// maxResults for a view, key and maxRows for a table. They can be
// built programmatically (DefaultViewOptions, ...FromMap) or
// decoded from a YAML document via sigs.k8s.io/yaml.
package config

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// JoinMode selects how an equi-join node materializes its
// indexed state.
type JoinMode string

const (
	// JoinAppendOnly never retracts: both sides are assumed
	// insert-only, letting the join skip retraction bookkeeping.
	JoinAppendOnly JoinMode = "append-only"
	// JoinFull is the default: both sides may insert and
	// retract, and both indexes are kept fully materialized.
	JoinFull JoinMode = "full"
	// JoinFullIndexed is JoinFull with an additional secondary
	// index maintained on the join key (join.EquiJoin's
	// zset.Indexed), trading memory for probe speed.
	JoinFullIndexed JoinMode = "full-indexed"
)

func (m JoinMode) valid() bool {
	switch m {
	case JoinAppendOnly, JoinFull, JoinFullIndexed:
		return true
	}
	return false
}

// DefaultMaxResults is the default cap on a view's materialized
// result count before the overflow flag is raised.
const DefaultMaxResults = 10000

// ViewOptions are the options recognized in a CREATE VIEW ...
// WITH (...) clause. Once the view's materialization holds more
// than MaxResults rows, the view's overflow flag (Engine.View) is
// set and stays set; rows past the cap are still materialized.
type ViewOptions struct {
	JoinMode   JoinMode `json:"joinMode,omitempty"`
	MaxResults int      `json:"maxResults,omitempty"`
}

// DefaultViewOptions returns the options a view has when no WITH
// clause is given.
func DefaultViewOptions() ViewOptions {
	return ViewOptions{JoinMode: JoinFull, MaxResults: DefaultMaxResults}
}

// TableOptions are the options recognized in a CREATE TABLE ...
// WITH (...) clause. Key is required; it names the table's
// primary key as one or more column names.
type TableOptions struct {
	Key     []string `json:"key"`
	MaxRows int      `json:"maxRows,omitempty"`
}

// ViewOptionsFromMap builds ViewOptions from a generic option
// bag (the shape engine.go assembles from a parsed CREATE VIEW's
// WITH clause, one literal per sql.Option, without needing a
// second parser for option values).
func ViewOptionsFromMap(m map[string]any) (ViewOptions, error) {
	opts := DefaultViewOptions()
	for k, v := range m {
		switch k {
		case "joinMode":
			s, ok := v.(string)
			if !ok {
				return ViewOptions{}, fmt.Errorf("view option %q must be a string", k)
			}
			mode := JoinMode(s)
			if !mode.valid() {
				return ViewOptions{}, fmt.Errorf("view option %q: unknown join mode %q", k, s)
			}
			opts.JoinMode = mode
		case "maxResults":
			n, err := toInt(k, v)
			if err != nil {
				return ViewOptions{}, err
			}
			opts.MaxResults = n
		default:
			return ViewOptions{}, fmt.Errorf("unknown view option %q", k)
		}
	}
	return opts, nil
}

// TableOptionsFromMap builds TableOptions from a generic option
// bag; key is required, as either a single string or a list.
func TableOptionsFromMap(m map[string]any) (TableOptions, error) {
	var opts TableOptions
	for k, v := range m {
		switch k {
		case "key":
			switch t := v.(type) {
			case string:
				opts.Key = []string{t}
			case []string:
				opts.Key = append([]string(nil), t...)
			case []any:
				for _, e := range t {
					s, ok := e.(string)
					if !ok {
						return TableOptions{}, fmt.Errorf("table option %q: expected a column name, got %T", k, e)
					}
					opts.Key = append(opts.Key, s)
				}
			default:
				return TableOptions{}, fmt.Errorf("table option %q: unsupported value %T", k, v)
			}
		case "maxRows":
			n, err := toInt(k, v)
			if err != nil {
				return TableOptions{}, err
			}
			opts.MaxRows = n
		default:
			return TableOptions{}, fmt.Errorf("unknown table option %q", k)
		}
	}
	if len(opts.Key) == 0 {
		return TableOptions{}, fmt.Errorf("table option %q is required", "key")
	}
	return opts, nil
}

func toInt(name string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("option %q must be an integer, got %T", name, v)
}

// ParseViewOptions decodes a YAML document's view options into a
// ViewOptions, starting from the default values so an absent
// document is equivalent to DefaultViewOptions.
func ParseViewOptions(data []byte) (ViewOptions, error) {
	opts := DefaultViewOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return ViewOptions{}, fmt.Errorf("decoding view options: %w", err)
	}
	return opts, nil
}

// ParseTableOptions decodes a YAML document's table options into
// a TableOptions. Key is required.
func ParseTableOptions(data []byte) (TableOptions, error) {
	var opts TableOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return TableOptions{}, fmt.Errorf("decoding table options: %w", err)
	}
	if len(opts.Key) == 0 {
		return TableOptions{}, fmt.Errorf("table option %q is required", "key")
	}
	return opts, nil
}
