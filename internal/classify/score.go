package classify

// gradeScale maps the worst bucket on an axis to its grade. Index 0 is "no
// findings".
var gradeScale = map[Axis][4]Grade{
	AxisComponents: {GradeComplete, GradeAcceptable, GradeIncomplete, GradeInsufficient},
	AxisTiming:     {GradeImpeccable, GradeGood, GradeFair, GradeInsufficient},
	AxisStructure:  {GradeImpeccable, GradeGood, GradeFair, GradeInsufficient},
}

// Finalize recomputes the derived fields of r (scores, bucket lists and
// level) from r.Findings. It must run after any edit to the findings.
func Finalize(r *Result) {
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	var cls Classification
	worst := make(map[Axis]int, len(Axes))
	details := make(map[Axis][]string, len(Axes))

	for _, f := range r.Findings {
		switch f.Bucket {
		case BucketImportant:
			cls.Important = append(cls.Important, f.Text)
		case BucketObservations:
			cls.Observations = append(cls.Observations, f.Text)
		case BucketSuggestions:
			cls.Suggestions = append(cls.Suggestions, f.Text)
		default:
			continue
		}
		if rank := f.Bucket.Rank(); rank > worst[f.Axis] {
			worst[f.Axis] = rank
		}
		details[f.Axis] = append(details[f.Axis], f.Text)
	}
	if cls.Important == nil {
		cls.Important = []string{}
	}
	if cls.Observations == nil {
		cls.Observations = []string{}
	}
	if cls.Suggestions == nil {
		cls.Suggestions = []string{}
	}

	scores := make(map[Axis]AxisScore, len(Axes))
	for _, ax := range Axes {
		d := details[ax]
		if d == nil {
			d = []string{}
		}
		grade := gradeScale[ax][worst[ax]]
		if ax == AxisTiming && r.Timing == nil && worst[ax] == 0 {
			grade = GradeNA
		}
		scores[ax] = AxisScore{Grade: grade, Details: d}
	}

	r.Classification = cls
	r.Scores = scores
	r.Level = LevelOf(cls)
}

// LevelOf derives the overall level from the bucket lists.
func LevelOf(c Classification) Level {
	switch {
	case len(c.Important) > 0:
		return LevelImportant
	case len(c.Observations) > 0:
		return LevelObservations
	case len(c.Suggestions) > 0:
		return LevelSuggestions
	default:
		return LevelComplete
	}
}

// WorstBucket returns the most severe bucket among findings, or "" when there
// are none.
func WorstBucket(findings []Finding) Bucket {
	var worst Bucket
	for _, f := range findings {
		if f.Bucket.Rank() > worst.Rank() {
			worst = f.Bucket
		}
	}
	return worst
}
