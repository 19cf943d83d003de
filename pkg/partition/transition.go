package partition

import "context"

// TransitionStep is one role-specific service a partition installs or tears
// down as it moves between roles. Prepare always runs before TransitionTo,
// across every step, so a step can rely on every other step having finished
// tearing down its previous role's services before any step starts
// installing the new ones.
type TransitionStep interface {
	// Prepare tears down whatever this step installed for the partition's
	// previous role. target is the role the partition is moving to.
	Prepare(ctx context.Context, term Term, target Role) error

	// TransitionTo installs whatever this step owns for target, once every
	// step has finished Prepare.
	TransitionTo(ctx context.Context, term Term, target Role) error
}

// Transition runs a fixed, ordered list of TransitionSteps through a
// two-phase prepare/transition_to role change. It is the partition-level
// analogue of pkg/startup's reversible Process, generalized from a linear
// bring-up sequence to a repeatable role-to-role move.
type Transition struct {
	steps []TransitionStep
}

// NewTransition returns a Transition that runs steps, in order, on every
// role change.
func NewTransition(steps ...TransitionStep) *Transition {
	return &Transition{steps: steps}
}

// ToLeader moves every step to RoleLeader under term.
func (t *Transition) ToLeader(ctx context.Context, term Term) error {
	return t.run(ctx, term, RoleLeader)
}

// ToFollower moves every step to RoleFollower under term.
func (t *Transition) ToFollower(ctx context.Context, term Term) error {
	return t.run(ctx, term, RoleFollower)
}

// ToInactive moves every step to RoleInactive. Term carries no meaning once
// a partition stops participating in consensus, so callers don't supply
// one; a zero Term is threaded through for steps that ignore it.
func (t *Transition) ToInactive(ctx context.Context) error {
	return t.run(ctx, 0, RoleInactive)
}

func (t *Transition) run(ctx context.Context, term Term, target Role) error {
	for _, step := range t.steps {
		if err := step.Prepare(ctx, term, target); err != nil {
			return err
		}
	}

	for _, step := range t.steps {
		if err := step.TransitionTo(ctx, term, target); err != nil {
			return err
		}
	}

	return nil
}
