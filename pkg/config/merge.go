package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeOverBuiltin merges a user-supplied partial config over the built-in
// defaults. Zero-valued fields in user are left at their built-in value;
// non-zero fields override. Mirrors the built-in+user merge tarsy performs
// for its queue config during load.
func mergeOverBuiltin(builtin, user *Config) (*Config, error) {
	if user == nil {
		return builtin, nil
	}
	result := *builtin
	if user.BusinessHours != nil {
		bh := *builtin.BusinessHours
		if err := mergo.Merge(&bh, user.BusinessHours, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge business_hours: %w", err)
		}
		result.BusinessHours = &bh
	}
	if user.Dialer != nil {
		d := *builtin.Dialer
		if err := mergo.Merge(&d, user.Dialer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge dialer: %w", err)
		}
		result.Dialer = &d
	}
	if user.Campaign != nil {
		c, err := mergeCampaign(builtin.Campaign, user.Campaign)
		if err != nil {
			return nil, err
		}
		result.Campaign = c
	}
	if user.Delivery != nil {
		d := *builtin.Delivery
		if err := mergo.Merge(&d, user.Delivery, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge delivery: %w", err)
		}
		result.Delivery = &d
	}
	if user.EmailIntake != nil {
		e := *builtin.EmailIntake
		if err := mergo.Merge(&e, user.EmailIntake, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge email_intake: %w", err)
		}
		result.EmailIntake = &e
	}
	if user.Masking != nil {
		m := *builtin.Masking
		if err := mergo.Merge(&m, user.Masking, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge masking: %w", err)
		}
		result.Masking = &m
	}
	return &result, nil
}

func mergeCampaign(builtin, user *CampaignConfig) (*CampaignConfig, error) {
	result := *builtin
	if user.Reminder != nil {
		r := *builtin.Reminder
		if err := mergo.Merge(&r, user.Reminder, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge campaign.reminder: %w", err)
		}
		result.Reminder = &r
	}
	if user.Recall != nil {
		r := *builtin.Recall
		if err := mergo.Merge(&r, user.Recall, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge campaign.recall: %w", err)
		}
		result.Recall = &r
	}
	if user.NoShow != nil {
		n := *builtin.NoShow
		if err := mergo.Merge(&n, user.NoShow, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge campaign.no_show: %w", err)
		}
		result.NoShow = &n
	}
	return &result, nil
}
