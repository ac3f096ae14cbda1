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

package sql

import "github.com/sneltrix/ivm/ivmerr"

// errUnsupported is embedded in every parse/plan/compile-time
// failure this package raises; callers distinguish the kind with
// errors.Is(err, ivmerr.ErrUnsupportedSQL), never by message text.
var errUnsupported = ivmerr.ErrUnsupportedSQL
