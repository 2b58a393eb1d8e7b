package siut

import (
	"testing"

	"github.com/taintpilot/taintpilot/internal/model"
)

func track(t *testing.T, src string) []model.UsageRecord {
	t.Helper()
	tr := NewTracker()
	recs, err := tr.Track("app.py", []byte(src))
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	return recs
}

func findOne(t *testing.T, recs []model.UsageRecord, nodeType model.NodeType) model.UsageRecord {
	t.Helper()
	var matches []model.UsageRecord
	for _, r := range recs {
		if r.Type == nodeType {
			matches = append(matches, r)
		}
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one %s record, got %d: %+v", nodeType, len(matches), recs)
	}
	return matches[0]
}

// `from A import B` followed by `B()` emits a Call record with chain
// [A, B], not [A, B, B] and not [A].
func TestFromImportCallChainNotDuplicated(t *testing.T) {
	recs := track(t, "from flask import request\nrequest()\n")
	call := findOne(t, recs, model.NodeCall)
	wantChain(t, call.Chain, "flask", "request")
	if call.Package != "flask" {
		t.Errorf("Package = %q, want flask", call.Package)
	}
}

// `import A` followed by `A.b.c(x, y=1)` emits one Call record with chain
// [A, b, c], one arg record with arg_pos=0, and one kwarg record with
// kw_name="y", all sharing a call_id.
func TestImportAttributeCallArgsAndKwargs(t *testing.T) {
	recs := track(t, "import A\nA.b.c(x, y=1)\n")

	call := findOne(t, recs, model.NodeCall)
	wantChain(t, call.Chain, "A", "b", "c")

	arg := findOne(t, recs, model.NodeArg)
	if arg.ArgPos == nil || *arg.ArgPos != 0 {
		t.Errorf("arg.ArgPos = %v, want 0", arg.ArgPos)
	}
	if arg.CallID != call.CallID {
		t.Errorf("arg.CallID = %d, call.CallID = %d, want equal", arg.CallID, call.CallID)
	}

	kwarg := findOne(t, recs, model.NodeKwarg)
	if kwarg.KwName == nil || *kwarg.KwName != "y" {
		t.Errorf("kwarg.KwName = %v, want y", kwarg.KwName)
	}
	if kwarg.CallID != call.CallID {
		t.Errorf("kwarg.CallID = %d, call.CallID = %d, want equal", kwarg.CallID, call.CallID)
	}
}

// Every record's chain is rooted at its package (or built_in), and package
// is always a member of tags.
func TestChainRootedAtPackage(t *testing.T) {
	recs := track(t, "import os\nos.system(cmd)\neval(expr)\n")
	for _, r := range recs {
		if len(r.Chain) == 0 {
			continue
		}
		if r.Chain[0] != r.Package {
			t.Errorf("record %+v: chain[0] != package", r)
		}
		found := false
		for _, tg := range r.Tags {
			if tg == r.Package {
				found = true
			}
		}
		if !found {
			t.Errorf("record %+v: package not in tags", r)
		}
	}
}

// Import-statement lines produce no records.
func TestImportProducesNoRecords(t *testing.T) {
	recs := track(t, "import os\nimport sys as system\nfrom flask import request\n")
	if len(recs) != 0 {
		t.Errorf("expected no records from bare imports, got %+v", recs)
	}
}

// A call to a non-imported builtin yields a built_in Call record.
func TestBuiltinClassification(t *testing.T) {
	recs := track(t, "eval(expr)\n")
	call := findOne(t, recs, model.NodeCall)
	wantChain(t, call.Chain, model.BuiltinPackage, "eval")
	if call.Package != model.BuiltinPackage {
		t.Errorf("Package = %q, want built_in", call.Package)
	}
}

// A wrapper function forwards calls as though calling the wrapped import
// directly, without inserting its own name into the chain.
func TestWrapperTransparency(t *testing.T) {
	src := "import sqlite3\n" +
		"def get_db():\n" +
		"    return sqlite3.connect('db')\n" +
		"c = get_db().cursor()\n" +
		"c.execute(sql)\n"
	recs := track(t, src)

	var executeCall model.UsageRecord
	found := false
	for _, r := range recs {
		if r.Type == model.NodeCall && len(r.Chain) > 0 && r.Chain[len(r.Chain)-1] == "execute" {
			executeCall = r
			found = true
		}
	}
	if !found {
		t.Fatalf("no execute() Call record found among %+v", recs)
	}
	wantChain(t, executeCall.Chain, "sqlite3", "connect", "cursor", "execute")
}

// A decorated handler's parameter is seeded as a source, rooted at the
// decorator's package.
func TestDecoratorParamSeeding(t *testing.T) {
	src := "from flask import Flask\n" +
		"app = Flask(__name__)\n" +
		"@app.route('/x', methods=['POST'])\n" +
		"def handler(host):\n" +
		"    pass\n"
	recs := track(t, src)

	param := findOne(t, recs, model.NodeParam)
	if param.Name != "host" {
		t.Errorf("param.Name = %q, want host", param.Name)
	}
	if len(param.Chain) == 0 || param.Chain[0] != "flask" {
		t.Errorf("param.Chain = %v, want rooted at flask", param.Chain)
	}
}

// Attribute reads that are not the callee of a surrounding call still
// produce a record.
func TestAttributeReadRecord(t *testing.T) {
	src := "from flask import request\n" +
		"username = request.form\n"
	recs := track(t, src)
	attr := findOne(t, recs, model.NodeAttribute)
	wantChain(t, attr.Chain, "flask", "request", "form")
}

func TestRelativeImportMarkedInternal(t *testing.T) {
	tr := NewTracker()
	src := "from . import helpers\n" +
		"helpers.format(x)\n"
	if _, err := tr.Track("app.py", []byte(src)); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if !tr.RelativeImports()["helpers"] {
		t.Errorf("RelativeImports() = %v, want helpers marked relative", tr.RelativeImports())
	}
}

func wantChain(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("chain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chain = %v, want %v", got, want)
		}
	}
}
