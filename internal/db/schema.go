package db

// Output table names.
const (
	TableBatchOutput  = "batch_output"
	TableOutputSchema = "output_schema"
)

// SchemaSQL defines the tables job output is written to.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS batch_output SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS key ON batch_output TYPE object;
    DEFINE FIELD IF NOT EXISTS offset ON batch_output TYPE int;
    DEFINE FIELD IF NOT EXISTS batch_index ON batch_output TYPE int;
    DEFINE FIELD IF NOT EXISTS items ON batch_output TYPE array;
    DEFINE FIELD IF NOT EXISTS written_at ON batch_output TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS batch_output_key ON batch_output FIELDS key.operation, key.model, key.collection, key.field;

    DEFINE TABLE IF NOT EXISTS output_schema SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS key ON output_schema TYPE object;
    DEFINE FIELD IF NOT EXISTS created_at ON output_schema TYPE datetime DEFAULT time::now();
`
