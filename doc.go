/*
Package reldb implements an in-process relational row store.

We implement:

1. Tables, typed records with a fixed list of fields, some of which are
references to rows of other tables.

2. Indices over arbitrary expressions, optionally unique, optionally partial
(covering only rows that satisfy a guard), optionally ordered for range scans.

3. Referential integrity: a row cannot be added with a dangling reference or
removed while other rows still refer to it.

4. Queries over one or several tables, planned by a small rule-based planner
and executed as a nested-loop join.

Nothing is persisted, except through explicit snapshots.

# Technical Details

**Row IDs.**
Every stored row gets an ID from a single counter shared by all tables of
a Schema. IDs are never reused. Replace keeps the ID, so a Ref keeps
pointing at the replaced row.

**Key encoding.**
Index values are encoded into byte strings that sort like the values
themselves and never prefix one another:

1. nil, false and true are single tag bytes.
2. Integers: tag, then 8 big-endian bytes with the sign bit flipped. Times
   encode Unix seconds that way, then 4 big-endian bytes of nanoseconds.
3. Floats: tag, then the IEEE bits, inverted for negative numbers.
4. Strings: tag, then the bytes with 0x00 escaped as 00 FF, then 00 01.
5. Row IDs: tag, then 8 big-endian bytes.
6. Tuples: tag, the encoded items, then 00.

Hash buckets are keyed by the encoding. An ordered index additionally keeps
a sorted list of the encoding followed by the big-endian row ID.

**Planning.**
Conjunctions are split and ranges over the same expression are merged. Then
for each table, in the order given, the first applicable strategy wins:
composite equality, single equality, range scan over an ordered index,
an index on the predicate itself (or a partial index guarded by it), and
finally a full scan in row ID order. A scan may use values of rows bound by
earlier tables, which is how joins over references use indices. Predicates
not satisfied by a scan are evaluated as soon as all their tables are bound.

**Snapshots.**
"RDB1", a flags byte, then a msgpack document, optionally zstd-compressed.
*/
package reldb
