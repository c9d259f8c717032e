package pipeline

import (
	"fmt"
	"upload-validator-go/internal/model"
)

// SchemaContextComparator 比较两次字段提取得到的 schema 与字段集合。
// 问卷 schema 的字段由答案动态生成，不做比较。
type SchemaContextComparator struct{}

// Compare 实现 ContextComparator 接口。
func (SchemaContextComparator) Compare(production, test *Context) []string {
	if production.Schema != nil && production.Schema.SchemaType == model.SchemaTypeIOSSurvey {
		return nil
	}
	if production.Record == nil || test.Record == nil {
		if production.Record != test.Record {
			return []string{"Test has missing record"}
		}
		return nil
	}

	var diffs []string
	prod, cand := production.Record, test.Record
	if prod.SchemaID != cand.SchemaID || prod.SchemaRevision != cand.SchemaRevision {
		diffs = append(diffs, fmt.Sprintf("Test has schema %s-v%d, production has %s-v%d",
			cand.SchemaID, cand.SchemaRevision, prod.SchemaID, prod.SchemaRevision))
	}
	diffs = append(diffs, compareKeySets("data field", keySet(prod.Data), keySet(cand.Data))...)
	diffs = append(diffs, compareKeySets("attachment", attachmentKeys(production), attachmentKeys(test))...)
	return diffs
}

func compareKeySets(kind string, prod, test map[string]bool) []string {
	var diffs []string
	for _, k := range sortedKeys(prod) {
		if !test[k] {
			diffs = append(diffs, fmt.Sprintf("Test has missing %s: %s", kind, k))
		}
	}
	for _, k := range sortedKeys(test) {
		if !prod[k] {
			diffs = append(diffs, fmt.Sprintf("Test has extraneous %s: %s", kind, k))
		}
	}
	return diffs
}

func keySet(m map[string]interface{}) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func attachmentKeys(vctx *Context) map[string]bool {
	out := make(map[string]bool, len(vctx.Attachments)+len(vctx.WrittenAttachments))
	for k := range vctx.Attachments {
		out[k] = true
	}
	for k := range vctx.WrittenAttachments {
		out[k] = true
	}
	return out
}
