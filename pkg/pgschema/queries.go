package pgschema

const (
	querySelectTables = `
SELECT table_name
FROM   information_schema.tables
WHERE  table_schema = $1
AND    table_type = 'BASE TABLE'
ORDER  BY table_name;
`
	querySelectColumns = `
SELECT table_name, column_name
FROM   information_schema.columns
WHERE  table_schema = $1
ORDER  BY table_name, ordinal_position;
`
	querySelectPrimaryKeys = `
SELECT a.attname
FROM   pg_index i
JOIN   pg_attribute a ON a.attrelid = i.indrelid
                     AND a.attnum   = ANY(i.indkey)
WHERE  i.indrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass
AND    i.indisprimary
ORDER  BY array_position(i.indkey::int2[], a.attnum);
`
	querySelectForeignKeys = `
SELECT con.conname,
       cl.relname,
       ref.relname,
       array_to_string(ARRAY(
           SELECT a.attname
           FROM   unnest(con.conkey) WITH ORDINALITY AS k(num, ord)
           JOIN   pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.num
           ORDER  BY k.ord), ',') AS cols,
       array_to_string(ARRAY(
           SELECT a.attname
           FROM   unnest(con.confkey) WITH ORDINALITY AS k(num, ord)
           JOIN   pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.num
           ORDER  BY k.ord), ',') AS ref_cols
FROM   pg_constraint con
JOIN   pg_class cl      ON cl.oid = con.conrelid
JOIN   pg_class ref     ON ref.oid = con.confrelid
JOIN   pg_namespace ns  ON ns.oid = cl.relnamespace
WHERE  con.contype = 'f'
AND    ns.nspname = $1
ORDER  BY cl.relname, con.conname;
`
	querySelectWALPosition = `SELECT pg_current_wal_lsn()::text;`
)
