package domain

import (
	"slices"
	"sort"
)

// InstanceAccounts holds the accounts of one remote instance. Accounts is
// kept free of duplicates by Relations.
type InstanceAccounts struct {
	Accounts []string `json:"accounts"`
}

// Relations maps a remote instance hostname to the set of accounts on it.
type Relations map[string]*InstanceAccounts

// Add inserts account under instance and reports whether it was new.
func (r Relations) Add(instance string, account string) bool {
	set, ok := r[instance]
	if !ok {
		set = &InstanceAccounts{}
		r[instance] = set
	}
	if slices.Contains(set.Accounts, account) {
		return false
	}
	set.Accounts = append(set.Accounts, account)
	return true
}

// Remove deletes account from instance. An instance left without accounts
// is dropped so it no longer receives deliveries.
func (r Relations) Remove(instance string, account string) bool {
	set, ok := r[instance]
	if !ok {
		return false
	}
	before := len(set.Accounts)
	set.Accounts = slices.DeleteFunc(set.Accounts, func(v string) bool { return v == account })
	if len(set.Accounts) == 0 {
		delete(r, instance)
	}
	return len(set.Accounts) != before
}

func (r Relations) Contains(instance string, account string) bool {
	set, ok := r[instance]
	return ok && slices.Contains(set.Accounts, account)
}

// Instances returns the sorted hostnames with at least one account.
func (r Relations) Instances() []string {
	instances := make([]string, 0, len(r))
	for instance, set := range r {
		if set != nil && len(set.Accounts) > 0 {
			instances = append(instances, instance)
		}
	}
	sort.Strings(instances)
	return instances
}

// Accounts returns every account, grouped by instance in hostname order.
func (r Relations) Accounts() []string {
	var all []string
	for _, instance := range r.Instances() {
		all = append(all, r[instance].Accounts...)
	}
	return all
}

// Len counts accounts over all instances.
func (r Relations) Len() int {
	n := 0
	for _, set := range r {
		if set != nil {
			n += len(set.Accounts)
		}
	}
	return n
}

// Normalize removes duplicates and empty instances from data read off disk.
func (r Relations) Normalize() Relations {
	out := Relations{}
	for instance, set := range r {
		if set == nil {
			continue
		}
		for _, account := range set.Accounts {
			out.Add(instance, account)
		}
	}
	return out
}
