package transform

import (
	"sort"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
)

// users builds one UserDoc per user row with its memberships embedded in
// joined_at order. A membership whose organization was not produced skips
// the user.
func (r *Run) users() (*StageResult, error) {
	ids := r.ix.userIDs
	out := make([]outcome[model.UserDoc], len(ids))

	r.build(len(ids), func(i int) {
		out[i] = r.buildUser(r.ix.users[ids[i]])
	})

	res := &StageResult{Stage: StageUsers}
	for i := range out {
		res.Errors = append(res.Errors, out[i].errs...)
		if out[i].skipped {
			res.Skipped++
			continue
		}
		doc := out[i].doc
		id, err := r.allocate(model.EntityUser, doc.OriginalID)
		if err != nil {
			return nil, err
		}
		doc.ID = id
		res.Documents = append(res.Documents, doc)
	}

	// memberships of users that were never extracted
	for _, userID := range sortedKeys(r.ix.membershipsByUser) {
		if _, ok := r.ix.users[userID]; ok {
			continue
		}
		for _, m := range r.sortedMemberships(userID) {
			res.Errors = append(res.Errors, *newMissingReference(model.EntityUser, userID, model.EntityUser, userID,
				"org_members row for organization "+itoa(m.OrgID)))
		}
	}
	return res, nil
}

func (r *Run) buildUser(u model.User) outcome[model.UserDoc] {
	var o outcome[model.UserDoc]

	memberships := r.sortedMemberships(u.ID)
	summaries := make([]model.MembershipSummary, 0, len(memberships))
	for _, m := range memberships {
		orgID, ok := r.ref(model.EntityOrganization, m.OrgID)
		if !ok {
			o.fail(newMissingReference(model.EntityUser, u.ID, model.EntityOrganization, m.OrgID, "org_members row"))
			return o
		}
		summaries = append(summaries, model.MembershipSummary{
			OrgID:    orgID,
			OrgName:  r.ix.orgs[m.OrgID].Name,
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		})
	}

	summaries, ok := applyBound(&o, r.engine.policy, policy.UserMemberships, model.EntityUser, u.ID, summaries)
	if !ok {
		return o
	}

	assigned := r.ix.assignedTasks[u.ID]
	completed := 0
	for _, taskID := range assigned {
		if t, ok := r.ix.tasks[taskID]; ok && t.Status == model.StatusCompleted {
			completed++
		}
	}

	o.doc = model.UserDoc{
		OriginalID:    u.ID,
		Email:         u.Email,
		Name:          u.Name,
		CreatedAt:     u.CreatedAt,
		Organizations: summaries,
		Stats: model.UserStats{
			AssignedTasks:  len(assigned),
			CompletedTasks: completed,
			CommentsMade:   r.ix.commentsMade[u.ID],
		},
	}
	return o
}

// sortedMemberships returns a user's memberships by joined_at, then
// organization id.
func (r *Run) sortedMemberships(userID int64) []model.OrgMembership {
	ms := append([]model.OrgMembership(nil), r.ix.membershipsByUser[userID]...)
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].JoinedAt.Equal(ms[j].JoinedAt) {
			return ms[i].JoinedAt.Before(ms[j].JoinedAt)
		}
		return ms[i].OrgID < ms[j].OrgID
	})
	return ms
}
