package tier

// DefaultTiers defines the tiers offered when no tiers JSON file is configured.
// PriceID is populated from the environment at startup since Stripe Price IDs
// differ between test and live mode
func DefaultTiers(basicPriceID, proPriceID string) []Tier {
	return []Tier{
		{
			ID:           Free,
			Name:         "Starter",
			Description:  "Practice questions and flashcards to get going",
			MonthlyCents: 0,
			Features: map[Feature]bool{
				FeatureAiTutor: true,
			},
			Limits: map[Quota]int64{
				QuotaDailyAiInteractions:   5,
				QuotaDailyFlashcardReviews: 50,
				QuotaMonthlyPracticeTests:  1,
			},
		},
		{
			ID:           Basic,
			Name:         "Scholar",
			Description:  "Daily AI tutoring, voice commands, and full-length practice tests",
			PriceID:      basicPriceID,
			MonthlyCents: 999,
			Features: map[Feature]bool{
				FeatureAiTutor:          true,
				FeatureVoiceCommands:    true,
				FeatureCustomStudyPlans: true,
			},
			Limits: map[Quota]int64{
				QuotaDailyAiInteractions:   50,
				QuotaDailyFlashcardReviews: Unlimited,
				QuotaMonthlyPracticeTests:  8,
				QuotaMonthlyEssayReviews:   2,
			},
		},
		{
			ID:           Pro,
			Name:         "Valedictorian",
			Description:  "Everything unlimited, with analytics and priority support",
			PriceID:      proPriceID,
			MonthlyCents: 1999,
			Features: map[Feature]bool{
				FeatureAiTutor:           true,
				FeatureVoiceCommands:     true,
				FeatureCustomStudyPlans:  true,
				FeatureAdvancedAnalytics: true,
				FeatureOfflineMode:       true,
				FeaturePrioritySupport:   true,
			},
			Limits: map[Quota]int64{
				QuotaDailyAiInteractions:   Unlimited,
				QuotaDailyFlashcardReviews: Unlimited,
				QuotaMonthlyPracticeTests:  Unlimited,
				QuotaMonthlyEssayReviews:   10,
			},
		},
	}
}
