package account

import "github.com/pkg/errors"

// DemoPassword is the password of every seeded account.
const DemoPassword = "masomo123"

var demoAccounts = []NewAccount{
	{
		Name:     "Mama Furaha",
		Username: "admin",
		Role:     RoleAdminOwner,
		Permissions: []string{
			"SCHOOL:view", "CLASS:view", "DIVISION:view",
			"STUDENT:view", "STUDENT:add", "TEACHER:view", "TEACHER:add", "FEES:view",
		},
	},
	{
		Name:        "Mwalimu Amani",
		Username:    "teacher",
		Role:        RoleTeacher,
		Permissions: []string{"SCHOOL:view", "CLASS:view", "DIVISION:view", "STUDENT:view", "STUDENT:add"},
	},
	{
		Name:        "Baraka Kito",
		Username:    "student",
		Role:        RoleStudent,
		Permissions: []string{"SCHOOL:view"},
	},
}

// Seed fills d with the demo accounts.
func Seed(d *Directory) error {
	for _, na := range demoAccounts {
		na.Password = DemoPassword
		if _, err := d.Create(na); err != nil {
			return errors.Wrapf(err, "seeding %s", na.Username)
		}
	}
	return nil
}
