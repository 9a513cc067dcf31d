// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schema holds the DDL of the sync database and applies it.
package schema

const (
	// Version is the schema version this build reads and writes.
	Version = "2"
	// VersionKey is the meta row holding the applied schema version.
	VersionKey = "schemaVersion"

	// SelectVersionQuery reads the applied version; $1 is VersionKey.
	SelectVersionQuery = `select value from meta where key = $1`

	// NotifyChannel receives the id of every space whose row changes.
	NotifyChannel = "space_changed"
)

var statements = []string{
	`create table if not exists meta (
		key text primary key,
		value text not null
	)`,
	`create table if not exists space (
		id text primary key not null,
		version integer not null,
		lastmodified timestamp(6) not null
	)`,
	`create table if not exists client (
		id text primary key not null,
		lastmutationid integer not null,
		lastmodified timestamp(6) not null
	)`,
	`create table if not exists entry (
		spaceid text not null,
		key text collate "C" not null,
		value text not null,
		deleted boolean not null,
		version integer not null,
		lastmodified timestamp(6) not null
	)`,
	// scans merge staged writes in byte order, so keys must sort the same way here
	`alter table entry alter column key type text collate "C"`,
	`create unique index if not exists entry_spaceid_key_idx on entry (spaceid, key)`,
	`create index if not exists entry_spaceid_idx on entry (spaceid)`,
	`create index if not exists entry_deleted_idx on entry (deleted)`,
	`create index if not exists entry_version_idx on entry (version)`,
	`create or replace function space_notify() returns trigger as $$
	begin
		perform pg_notify('` + NotifyChannel + `', new.id);
		return new;
	end;
	$$ language plpgsql`,
	`drop trigger if exists space_notify_trigger on space`,
	`create trigger space_notify_trigger after insert or update on space
		for each row execute procedure space_notify()`,
	`insert into meta (key, value) values ('` + VersionKey + `', '` + Version + `')
		on conflict (key) do update set value = excluded.value`,
}

// Statements returns the DDL in execution order. Every statement is idempotent.
func Statements() []string {
	out := make([]string, len(statements))
	copy(out, statements)

	return out
}
