package condition

import "github.com/Ramsey-B/sepal/pkg/models"

// reconcilePlan partitions a desired condition set against the persisted one.
// Deletes run first so a rule renamed and recreated in one call cannot trip a
// uniqueness collision, then creates, then updates.
type reconcilePlan struct {
	toDelete []int64
	toCreate []models.ProjectCondition
	toUpdate []models.ProjectCondition
}

// planReconcile diffs the desired set against the existing condition ids:
// desired entries whose id matches an existing row are updates, the rest are
// creates, and existing ids absent from the desired set are deletes.
func planReconcile(existingIDs []int64, desired []models.ProjectCondition) reconcilePlan {
	existing := make(map[int64]bool, len(existingIDs))
	for _, id := range existingIDs {
		existing[id] = true
	}

	plan := reconcilePlan{}
	desiredIDs := make(map[int64]bool, len(desired))
	for _, c := range desired {
		if c.ConditionID != 0 && existing[c.ConditionID] {
			plan.toUpdate = append(plan.toUpdate, c)
			desiredIDs[c.ConditionID] = true
			continue
		}
		plan.toCreate = append(plan.toCreate, c)
	}

	for _, id := range existingIDs {
		if !desiredIDs[id] {
			plan.toDelete = append(plan.toDelete, id)
		}
	}

	return plan
}
