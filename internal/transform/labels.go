package transform

import (
	"github.com/roach88/denorm/internal/model"
)

// labels builds one LabelDoc per label row. The organization is a reference;
// usage_count is the number of task_labels rows naming the label.
func (r *Run) labels() (*StageResult, error) {
	ids := r.ix.labelIDs
	out := make([]outcome[model.LabelDoc], len(ids))

	r.build(len(ids), func(i int) {
		l := r.ix.labels[ids[i]]
		orgID, ok := r.ref(model.EntityOrganization, l.OrgID)
		if !ok {
			out[i].fail(newMissingReference(model.EntityLabel, l.ID, model.EntityOrganization, l.OrgID, "label"))
			return
		}
		out[i].doc = model.LabelDoc{
			OriginalID: l.ID,
			OrgID:      orgID,
			Name:       l.Name,
			Color:      l.Color,
			CreatedAt:  l.CreatedAt,
			UsageCount: r.ix.usageCount[l.ID],
		}
	})

	res := &StageResult{Stage: StageLabels}
	for i := range out {
		res.Errors = append(res.Errors, out[i].errs...)
		if out[i].skipped {
			res.Skipped++
			continue
		}
		doc := out[i].doc
		id, err := r.allocate(model.EntityLabel, doc.OriginalID)
		if err != nil {
			return nil, err
		}
		doc.ID = id
		res.Documents = append(res.Documents, doc)
	}
	return res, nil
}

// outcome is the build-phase result for one record.
type outcome[D any] struct {
	doc     D
	skipped bool
	errs    []Error
	fatal   error
}

// fail records a record-level error; errors that skip mark the record skipped.
func (o *outcome[D]) fail(e *Error) {
	o.errs = append(o.errs, *e)
	if e.Skipped {
		o.skipped = true
	}
}

// note records an error that does not skip the record.
func (o *outcome[D]) note(e *Error) {
	o.errs = append(o.errs, *e)
}
