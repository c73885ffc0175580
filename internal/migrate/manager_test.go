package migrate

import (
	"strings"
	"testing"
)

func TestSplitStatementsSimple(t *testing.T) {
	stmts := splitStatements("create table a (id text);\ncreate table b (id text);")
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2", len(stmts))
	}
}

func TestSplitStatementsPreservesStrings(t *testing.T) {
	stmts := splitStatements(`insert into t values ('a;b'); select 1;`)
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "'a;b'") {
		t.Fatalf("string literal split: %q", stmts[0])
	}
}

func TestSplitStatementsDollarQuoted(t *testing.T) {
	sql := `
create or replace function f() returns void
language plpgsql as $$
begin
    update t set n = n + 1;
    if n > 3 then
        raise exception 'too big';
    end if;
end;
$$;
select 1;`
	stmts := splitStatements(sql)
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "end;") {
		t.Fatalf("function body split: %q", stmts[0])
	}
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	stmts := splitStatements("select 1")
	if len(stmts) != 1 {
		t.Fatalf("statements = %d, want 1", len(stmts))
	}
}
