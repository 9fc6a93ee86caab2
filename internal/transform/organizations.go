package transform

import (
	"github.com/roach88/denorm/internal/model"
)

// organizations builds one OrganizationDoc per organization row. Counters
// come from the supplied membership and project rows.
func (r *Run) organizations() (*StageResult, error) {
	ids := r.ix.orgIDs
	docs := make([]model.OrganizationDoc, len(ids))

	r.build(len(ids), func(i int) {
		o := r.ix.orgs[ids[i]]
		docs[i] = model.OrganizationDoc{
			OriginalID:   o.ID,
			Name:         o.Name,
			CreatedAt:    o.CreatedAt,
			MemberCount:  r.ix.memberCount[o.ID],
			ProjectCount: r.ix.projectCount[o.ID],
		}
	})

	res := &StageResult{Stage: StageOrganizations}
	for i := range docs {
		id, err := r.allocate(model.EntityOrganization, docs[i].OriginalID)
		if err != nil {
			return nil, err
		}
		docs[i].ID = id
		res.Documents = append(res.Documents, docs[i])
	}
	return res, nil
}
